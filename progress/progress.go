// Package progress prints per-message lines and a closing summary to the
// console while an archive run is in flight.
package progress

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/iruzo/rimap/stats"
)

// Console subscribes to run events and prints them with pterm.
type Console struct {
	mu        sync.Mutex
	collector *stats.Collector
	started   time.Time

	success *pterm.PrefixPrinter
	info    *pterm.PrefixPrinter
	warning *pterm.PrefixPrinter
	failure *pterm.PrefixPrinter
	section *pterm.SectionPrinter

	done chan struct{}
}

// NewConsole registers a console subscriber on stream. Output goes to w, or
// stdout when w is nil.
func NewConsole(stream stats.EventStream, w io.Writer) *Console {
	if w == nil {
		w = os.Stdout
	}
	c := &Console{
		collector: stats.NewCollector(),
		started:   time.Now(),
		success:   pterm.Success.WithWriter(w),
		info:      pterm.Info.WithWriter(w),
		warning:   pterm.Warning.WithWriter(w),
		failure:   pterm.Error.WithWriter(w),
		section:   pterm.DefaultSection.WithWriter(w),
		done:      make(chan struct{}),
	}
	stream.SubscribeStats("console", c.consume)
	return c
}

// Summary returns the counts seen so far.
func (c *Console) Summary() stats.Summary {
	return c.collector.Snapshot()
}

// Done is closed once the summary has been printed.
func (c *Console) Done() <-chan struct{} {
	return c.done
}

func (c *Console) consume(ctx context.Context, events <-chan stats.Event) error {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				c.printSummary()
				return nil
			}
			c.collector.Apply(evt)
			c.print(evt)
		}
	}
}

func (c *Console) print(evt stats.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeDownloaded:
		c.success.Printfln("Downloaded %s|%s", evt.Account, evt.File)
	case stats.EventTypeDryRun:
		c.info.Printfln("Would download %s|%s", evt.Account, evt.File)
	case stats.EventTypeAlreadyPresent:
		c.info.Printfln("Mail already present: %s|%s", evt.Account, evt.File)
	case stats.EventTypeCollision:
		c.warning.Printfln("Name taken by another message, stored as %s|%s", evt.Account, evt.File)
	case stats.EventTypeMailboxSkipped:
		c.warning.Printfln("Skipped mailbox %s|%s: %v", evt.Account, evt.Mailbox, evt.Err)
	case stats.EventTypeAccountFailed:
		c.failure.Printfln("Account %s failed: %v", evt.Account, evt.Err)
	case stats.EventTypeError:
		if evt.Err != nil {
			c.failure.Printfln("Error in %s|%s: %v", evt.Account, evt.Mailbox, evt.Err)
		}
	}
}

func (c *Console) printSummary() {
	c.mu.Lock()
	defer c.mu.Unlock()

	summary := c.collector.Snapshot()
	c.section.Println("Summary")
	c.info.Printfln("Duration: %v", time.Since(c.started).Round(time.Millisecond))
	c.info.Printfln("Downloaded: %d", summary.Downloaded)
	if summary.DryRun > 0 {
		c.info.Printfln("Would download: %d", summary.DryRun)
	}
	c.info.Printfln("Already present: %d", summary.AlreadyPresent)
	if summary.Collisions > 0 {
		c.info.Printfln("Name collisions: %d", summary.Collisions)
	}
	c.info.Printfln("Mailboxes archived: %d", summary.Mailboxes)
	if summary.MailboxesFailed > 0 {
		c.warning.Printfln("Mailboxes skipped: %d", summary.MailboxesFailed)
	}
	if summary.AccountsFailed > 0 {
		c.failure.Printfln("Accounts failed: %d", summary.AccountsFailed)
	}
	if summary.Errors > 0 {
		c.failure.Printfln("Message errors: %d", summary.Errors)
	}
	if summary.LastError != nil {
		c.failure.Printfln("Last error: %v", summary.LastError)
	}
}
