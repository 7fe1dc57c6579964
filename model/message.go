package model

// Message is the transient view of one fetched message. It lives only long
// enough to derive a filename and be written.
type Message struct {
	Mailbox   string
	SeqNum    uint32
	From      string
	Date      string
	MessageID string
	Raw       []byte
}

// Account identifies the account a message or event belongs to.
type Account struct {
	Server   string
	Username string
}

// String renders the account the way progress lines do: server|username.
func (a Account) String() string {
	return a.Server + "|" + a.Username
}
