// Package imaptest runs an in-memory IMAP server for tests.
package imaptest

import (
	"net"
	"testing"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
)

// Server is a plain-text IMAP server backed by imapmemserver.
type Server struct {
	Host string
	Port int

	Username string
	Password string

	addr string
}

// NewServer starts a server with one user owning the given mailboxes. It is
// shut down when the test completes.
func NewServer(t *testing.T, username, password string, mailboxes ...string) *Server {
	t.Helper()

	mem := imapmemserver.New()
	user := imapmemserver.NewUser(username, password)
	for _, name := range mailboxes {
		if err := user.Create(name, nil); err != nil {
			t.Fatalf("create mailbox %q: %v", name, err)
		}
	}
	mem.AddUser(user)

	server := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return mem.NewSession(), nil, nil
		},
		Caps: imapv2.CapSet{
			imapv2.CapIMAP4rev1: {},
			imapv2.CapIMAP4rev2: {},
		},
		InsecureAuth: true,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		_ = server.Serve(ln)
	}()
	t.Cleanup(func() {
		_ = server.Close()
	})

	tcpAddr := ln.Addr().(*net.TCPAddr)
	return &Server{
		Host:     tcpAddr.IP.String(),
		Port:     tcpAddr.Port,
		Username: username,
		Password: password,
		addr:     ln.Addr().String(),
	}
}

// Append stores raw in mailbox.
func (s *Server) Append(t *testing.T, mailbox string, raw []byte) {
	t.Helper()

	client, err := imapclient.DialInsecure(s.addr, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if err := client.Login(s.Username, s.Password).Wait(); err != nil {
		t.Fatalf("login: %v", err)
	}

	cmd := client.Append(mailbox, int64(len(raw)), nil)
	if _, err := cmd.Write(raw); err != nil {
		t.Fatalf("append write: %v", err)
	}
	if err := cmd.Close(); err != nil {
		t.Fatalf("append close: %v", err)
	}
	if _, err := cmd.Wait(); err != nil {
		t.Fatalf("append wait: %v", err)
	}

	if err := client.Logout().Wait(); err != nil {
		t.Logf("logout: %v", err)
	}
}
