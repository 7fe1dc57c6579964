package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/v2/imapclient"
)

// Transport opens the byte stream an IMAP session runs over and wraps it in
// a client. Session logic is written once against the resulting client, so
// the transport is purely a configuration-time choice.
type Transport interface {
	Name() string
	Open(ctx context.Context, address string, options *imapclient.Options) (*imapclient.Client, error)
}

// NewTransport returns the transport registered under name: "tls"
// (implicit TLS, the IMAPS default), "starttls" or "insecure".
func NewTransport(name, serverName string, insecureSkipVerify bool, timeout time.Duration) (Transport, error) {
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	tlsConfig := &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: insecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}

	switch name {
	case "", "tls":
		return &tlsTransport{dialer: dialer, config: tlsConfig}, nil
	case "starttls":
		return &startTLSTransport{dialer: dialer, config: tlsConfig}, nil
	case "insecure":
		return &plainTransport{dialer: dialer}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", name)
	}
}

type tlsTransport struct {
	dialer *net.Dialer
	config *tls.Config
}

func (t *tlsTransport) Name() string { return "tls" }

func (t *tlsTransport) Open(ctx context.Context, address string, options *imapclient.Options) (*imapclient.Client, error) {
	d := &tls.Dialer{NetDialer: t.dialer, Config: t.config}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return imapclient.New(conn, options), nil
}

type startTLSTransport struct {
	dialer *net.Dialer
	config *tls.Config
}

func (t *startTLSTransport) Name() string { return "starttls" }

func (t *startTLSTransport) Open(ctx context.Context, address string, options *imapclient.Options) (*imapclient.Client, error) {
	conn, err := t.dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	opts := *options
	opts.TLSConfig = t.config
	client, err := imapclient.NewStartTLS(conn, &opts)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return client, nil
}

type plainTransport struct {
	dialer *net.Dialer
}

func (t *plainTransport) Name() string { return "insecure" }

func (t *plainTransport) Open(ctx context.Context, address string, options *imapclient.Options) (*imapclient.Client, error) {
	conn, err := t.dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return imapclient.New(conn, options), nil
}
