package imap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// ErrSessionClosed is returned once a session's connection has been torn
// down, either by Logout or by a command that ran past its timeout.
var ErrSessionClosed = errors.New("imap session closed")

const defaultTimeout = 2 * time.Minute

// Options configures how sessions are established.
type Options struct {
	Port               int
	Transport          string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// Dialer establishes authenticated sessions.
type Dialer struct {
	opts   Options
	logger *slog.Logger
}

func NewDialer(opts Options, logger *slog.Logger) (*Dialer, error) {
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if _, err := NewTransport(opts.Transport, "", false, opts.Timeout); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dialer{opts: opts, logger: logger}, nil
}

// Dial connects to host, authenticates and returns the session. The caller
// must Logout.
func (d *Dialer) Dial(ctx context.Context, host, username, password string) (*Session, error) {
	address := net.JoinHostPort(host, strconv.Itoa(d.opts.Port))

	transport, err := NewTransport(d.opts.Transport, host, d.opts.InsecureSkipVerify, d.opts.Timeout)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	client, err := transport.Open(dialCtx, address, &imapclient.Options{})
	if err != nil {
		return nil, &ConnectionError{Address: address, Err: err}
	}

	s := &Session{
		client:  client,
		timeout: d.opts.Timeout,
		logger:  d.logger.With("address", address, "user", username),
	}

	if err := s.do(ctx, func() error { return client.WaitGreeting() }); err != nil {
		_ = client.Close()
		return nil, &ConnectionError{Address: address, Err: err}
	}

	if err := s.do(ctx, func() error { return client.Login(username, password).Wait() }); err != nil {
		_ = client.Close()
		var respErr *imapv2.Error
		if errors.As(err, &respErr) {
			return nil, &AuthError{Username: username, Err: err}
		}
		return nil, &ConnectionError{Address: address, Err: err}
	}

	s.logger.Debug("imap session established", "transport", transport.Name())
	return s, nil
}

// Session is one authenticated IMAP connection. Calls are serialized; at
// most one mailbox is selected at a time.
type Session struct {
	mu      sync.Mutex
	client  *imapclient.Client
	timeout time.Duration
	mailbox string
	closed  bool
	logger  *slog.Logger
}

// ListMailboxes returns every mailbox name (LIST "" "*") in server order.
func (s *Session) ListMailboxes(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []*imapv2.ListData
	err := s.do(ctx, func() error {
		var err error
		list, err = s.client.List("", "*", nil).Collect()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list mailboxes: %w", err)
	}

	names := make([]string, 0, len(list))
	for _, data := range list {
		names = append(names, data.Mailbox)
	}
	return names, nil
}

// Select opens mailbox read-only and returns its message count.
func (s *Session) Select(ctx context.Context, mailbox string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data *imapv2.SelectData
	err := s.do(ctx, func() error {
		var err error
		data, err = s.client.Select(mailbox, &imapv2.SelectOptions{ReadOnly: true}).Wait()
		return err
	})
	if err != nil {
		s.mailbox = ""
		return 0, &SelectError{Mailbox: mailbox, Err: err}
	}

	s.mailbox = mailbox
	s.logger.Debug("mailbox selected", "mailbox", mailbox, "messages", data.NumMessages)
	return data.NumMessages, nil
}

// SearchAll returns the sequence numbers of every message in the selected
// mailbox.
func (s *Session) SearchAll(ctx context.Context) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data *imapv2.SearchData
	err := s.do(ctx, func() error {
		var err error
		data, err = s.client.Search(&imapv2.SearchCriteria{}, nil).Wait()
		return err
	})
	if err != nil {
		return nil, &FetchError{Mailbox: s.mailbox, Err: err}
	}
	return data.AllSeqNums(), nil
}

// FetchHeader returns the From, Date and Message-ID header lines of one
// message. It returns nil without error if the server sent no header section.
func (s *Session) FetchHeader(ctx context.Context, seqNum uint32) ([]byte, error) {
	section := &imapv2.FetchItemBodySection{
		Specifier:    imapv2.PartSpecifierHeader,
		HeaderFields: []string{"From", "Date", "Message-ID"},
		Peek:         true,
	}
	return s.fetchSection(ctx, seqNum, section)
}

// FetchMessage returns the complete raw message (headers and body).
func (s *Session) FetchMessage(ctx context.Context, seqNum uint32) ([]byte, error) {
	section := &imapv2.FetchItemBodySection{Peek: true}
	raw, err := s.fetchSection(ctx, seqNum, section)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, &FetchError{Mailbox: s.mailbox, SeqNum: seqNum, Err: errors.New("server returned no message body")}
	}
	return raw, nil
}

func (s *Session) fetchSection(ctx context.Context, seqNum uint32, section *imapv2.FetchItemBodySection) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	opts := &imapv2.FetchOptions{
		BodySection: []*imapv2.FetchItemBodySection{section},
	}

	var msgs []*imapclient.FetchMessageBuffer
	err := s.do(ctx, func() error {
		var err error
		msgs, err = s.client.Fetch(imapv2.SeqSetNum(seqNum), opts).Collect()
		return err
	})
	if err != nil {
		return nil, &FetchError{Mailbox: s.mailbox, SeqNum: seqNum, Err: err}
	}
	if len(msgs) == 0 {
		return nil, &FetchError{Mailbox: s.mailbox, SeqNum: seqNum, Err: errors.New("message not found")}
	}
	return msgs[0].FindBodySection(section), nil
}

// Logout ends the session and closes the connection. It is safe to call
// more than once.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	err := s.do(ctx, func() error { return s.client.Logout().Wait() })
	s.closed = true
	if closeErr := s.client.Close(); closeErr != nil {
		s.logger.Debug("imap connection closed", "err", closeErr)
	}
	if err != nil && !errors.Is(err, ErrSessionClosed) {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// do runs one command, closing the connection if it outlives the session
// timeout or ctx.
func (s *Session) do(ctx context.Context, fn func() error) error {
	if s.closed {
		return ErrSessionClosed
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stopClose := context.AfterFunc(ctx, func() {
		_ = s.client.Close()
	})

	err := fn()
	if !stopClose() {
		s.closed = true
		return fmt.Errorf("%w: %w", ErrSessionClosed, context.Cause(ctx))
	}
	return err
}
