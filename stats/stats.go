package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/iruzo/rimap/model"
)

type Stage string

const (
	StageAccount Stage = "account"
	StageMailbox Stage = "mailbox"
	StageMessage Stage = "message"
)

type EventType string

const (
	EventTypeDownloaded     EventType = "downloaded"
	EventTypeDryRun         EventType = "dry_run"
	EventTypeAlreadyPresent EventType = "already_present"
	EventTypeCollision      EventType = "collision"
	EventTypeMailboxDone    EventType = "mailbox_done"
	EventTypeMailboxSkipped EventType = "mailbox_skipped"
	EventTypeAccountFailed  EventType = "account_failed"
	EventTypeError          EventType = "error"
)

type Event struct {
	Stage   Stage
	Type    EventType
	Account model.Account
	Mailbox string
	File    string
	Err     error
}

type Summary struct {
	Downloaded      int
	DryRun          int
	AlreadyPresent  int
	Collisions      int
	Mailboxes       int
	MailboxesFailed int
	AccountsFailed  int
	Errors          int
	LastError       error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"downloaded", s.Downloaded,
		"dryRun", s.DryRun,
		"alreadyPresent", s.AlreadyPresent,
		"collisions", s.Collisions,
		"mailboxes", s.Mailboxes,
		"mailboxesFailed", s.MailboxesFailed,
		"accountsFailed", s.AccountsFailed,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) Apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeDownloaded:
		c.summary.Downloaded++
	case EventTypeDryRun:
		c.summary.DryRun++
	case EventTypeAlreadyPresent:
		c.summary.AlreadyPresent++
	case EventTypeCollision:
		c.summary.Collisions++
	case EventTypeMailboxDone:
		c.summary.Mailboxes++
	case EventTypeMailboxSkipped:
		c.summary.MailboxesFailed++
		c.recordErr(evt.Err)
	case EventTypeAccountFailed:
		c.summary.AccountsFailed++
		c.recordErr(evt.Err)
	case EventTypeError:
		c.summary.Errors++
		c.recordErr(evt.Err)
	}
}

func (c *Collector) recordErr(err error) {
	if err != nil {
		c.summary.LastError = err
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}
