package imap

import (
	"fmt"
)

// ConnectionError reports a DNS, TCP or TLS failure reaching the server.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthError reports rejected credentials.
type AuthError struct {
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Username, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// SelectError reports a mailbox that could not be selected.
type SelectError struct {
	Mailbox string
	Err     error
}

func (e *SelectError) Error() string {
	return fmt.Sprintf("select %q: %v", e.Mailbox, e.Err)
}

func (e *SelectError) Unwrap() error { return e.Err }

// FetchError reports a failed search or fetch inside the selected mailbox.
type FetchError struct {
	Mailbox string
	SeqNum  uint32
	Err     error
}

func (e *FetchError) Error() string {
	if e.SeqNum == 0 {
		return fmt.Sprintf("search %q: %v", e.Mailbox, e.Err)
	}
	return fmt.Sprintf("fetch %q #%d: %v", e.Mailbox, e.SeqNum, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
