package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iruzo/rimap/archive"
	"github.com/iruzo/rimap/config"
	"github.com/iruzo/rimap/filter"
	"github.com/iruzo/rimap/imap"
	"github.com/iruzo/rimap/model"
	"github.com/iruzo/rimap/state"
	"github.com/iruzo/rimap/stats"
)

// Session is an authenticated IMAP session as the runner drives it.
type Session interface {
	archive.Session
	ListMailboxes(ctx context.Context) ([]string, error)
	Select(ctx context.Context, mailbox string) (uint32, error)
	Logout(ctx context.Context) error
}

// Dialer opens authenticated sessions.
type Dialer interface {
	Dial(ctx context.Context, host, username, password string) (Session, error)
}

type imapDialer struct {
	d *imap.Dialer
}

// FromIMAP adapts an *imap.Dialer to the Dialer interface.
func FromIMAP(d *imap.Dialer) Dialer {
	return imapDialer{d: d}
}

func (d imapDialer) Dial(ctx context.Context, host, username, password string) (Session, error) {
	sess, err := d.d.Dial(ctx, host, username, password)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

type Options struct {
	Accounts []config.Account
	Layout   config.Layout
	Docker   bool
	DryRun   bool
	// Filter restricts the mailboxes archived. nil archives all of them.
	Filter *filter.Filter
	// Tracker enables the manifest. nil disables it.
	Tracker state.Tracker
	// Lookup resolves keyring: passwords. Defaults to config.KeyringLookup.
	Lookup config.SecretLookup
	// Now stands in for the clock when a message has no Date header.
	Now func() time.Time
}

// Runner archives accounts one after another and fans progress events out to
// its stats subscribers.
type Runner struct {
	opts     Options
	dialer   Dialer
	archiver *archive.Archiver
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	subsMu sync.Mutex
	subs   []chan stats.Event

	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeEventsOnce sync.Once
	since           time.Time
}

func New(opts Options, dialer Dialer, logger *slog.Logger) *Runner {
	if opts.Lookup == nil {
		opts.Lookup = config.KeyringLookup
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())

	r := &Runner{
		opts:   opts,
		dialer: dialer,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	r.archiver = archive.New(archive.Options{DryRun: opts.DryRun, Now: opts.Now}, opts.Tracker, r, logger)
	return r
}

// Stop cancels the run. In-flight IMAP commands are abandoned.
func (r *Runner) Stop() {
	r.cancel()
}

// EmitEvent delivers evt to every subscriber.
func (r *Runner) EmitEvent(evt stats.Event) {
	r.subsMu.Lock()
	subs := r.subs
	r.subsMu.Unlock()

	for _, ch := range subs {
		select {
		case <-r.ctx.Done():
			return
		case ch <- evt:
		}
	}
}

// SubscribeStats registers fn to receive every event of the run. It must be
// called before Start.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, 128)
	r.subsMu.Lock()
	r.subs = append(r.subs, ch)
	r.subsMu.Unlock()

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
		// Keep draining so a failed subscriber never blocks EmitEvent.
		for range ch {
		}
	}()
}

// Start archives every configured account and waits for the subscribers to
// finish. Connection and authentication failures skip the account but still
// fail the run; filesystem errors abort it.
func (r *Runner) Start() error {
	r.since = time.Now()

	r.fail(r.run(r.ctx))

	r.closeEvents()
	r.statsWG.Wait()
	r.cancel()

	r.errMu.Lock()
	err := r.err
	r.errMu.Unlock()

	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("archive run failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("archive run completed", "duration", duration)
	return nil
}

func (r *Runner) run(ctx context.Context) error {
	accounts, err := r.resolveAccounts()
	if err != nil {
		return err
	}

	var failed []error
	for _, acct := range accounts {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(failed, err)...)
		}

		err := r.processAccount(ctx, acct)
		if err == nil {
			continue
		}
		if fatal(ctx, err) {
			return errors.Join(append(failed, err)...)
		}

		id := model.Account{Server: acct.Server, Username: acct.Username}
		r.logger.Error("account failed", "account", id.String(), "err", err)
		r.EmitEvent(stats.Event{Stage: stats.StageAccount, Type: stats.EventTypeAccountFailed, Account: id, Err: err})
		failed = append(failed, fmt.Errorf("%s: %w", id, err))
	}
	return errors.Join(failed...)
}

// resolveAccounts replaces every keyring: password before any account
// touches the network, so a bad reference fails the run as a config error.
func (r *Runner) resolveAccounts() ([]config.Account, error) {
	accounts := make([]config.Account, 0, len(r.opts.Accounts))
	for _, acct := range r.opts.Accounts {
		resolved, err := config.ResolvePassword(acct, r.opts.Lookup)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, resolved)
	}
	return accounts, nil
}

// ProcessAccount archives every mailbox of one account. The session is
// logged out on every return path.
func (r *Runner) ProcessAccount(ctx context.Context, acct config.Account) error {
	acct, err := config.ResolvePassword(acct, r.opts.Lookup)
	if err != nil {
		return err
	}
	return r.processAccount(ctx, acct)
}

func (r *Runner) processAccount(ctx context.Context, acct config.Account) error {
	id := model.Account{Server: acct.Server, Username: acct.Username}
	logger := r.logger.With("account", id.String())

	sess, err := r.dialer.Dial(ctx, acct.Server, acct.Username, acct.Password)
	if err != nil {
		return err
	}
	logger.Debug("logged in")
	defer func() {
		if logoutErr := sess.Logout(context.WithoutCancel(ctx)); logoutErr != nil {
			logger.Warn("logout failed", "err", logoutErr)
		}
	}()

	mailboxes, err := archive.ListMailboxes(ctx, sess, r.opts.Filter)
	if err != nil {
		return fmt.Errorf("list mailboxes: %w", err)
	}
	logger.Info("archiving account", "mailboxes", len(mailboxes))

	dir := acct.TargetDir(r.opts.Layout, r.opts.Docker)
	total := 0
	for _, mailbox := range mailboxes {
		if err := ctx.Err(); err != nil {
			return err
		}

		count, err := sess.Select(ctx, mailbox)
		if err != nil {
			if errors.Is(err, imap.ErrSessionClosed) {
				return err
			}
			logger.Warn("skipping mailbox", "mailbox", mailbox, "err", err)
			r.EmitEvent(stats.Event{Stage: stats.StageMailbox, Type: stats.EventTypeMailboxSkipped, Account: id, Mailbox: mailbox, Err: err})
			continue
		}

		written, err := r.archiver.Archive(ctx, sess, archive.Target{Account: id, Mailbox: mailbox, Dir: dir})
		total += written
		if err != nil {
			if fatal(ctx, err) || errors.Is(err, imap.ErrSessionClosed) {
				return err
			}
			logger.Warn("skipping mailbox", "mailbox", mailbox, "err", err)
			r.EmitEvent(stats.Event{Stage: stats.StageMailbox, Type: stats.EventTypeMailboxSkipped, Account: id, Mailbox: mailbox, Err: err})
			continue
		}

		logger.Info("mailbox archived", "mailbox", mailbox, "messages", count, "downloaded", written)
		r.EmitEvent(stats.Event{Stage: stats.StageMailbox, Type: stats.EventTypeMailboxDone, Account: id, Mailbox: mailbox})
	}

	logger.Info("account archived", "downloaded", total, "dir", dir)
	return nil
}

// fatal reports whether err ends the whole run rather than one account.
func fatal(ctx context.Context, err error) bool {
	var fsErr *archive.FilesystemError
	return errors.As(err, &fsErr) || ctx.Err() != nil
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		r.subsMu.Lock()
		defer r.subsMu.Unlock()
		for _, ch := range r.subs {
			close(ch)
		}
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
	} else {
		r.err = errors.Join(r.err, err)
	}
	r.errMu.Unlock()
}
