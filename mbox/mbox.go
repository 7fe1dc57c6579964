// Package mbox bundles an archive directory of .eml files into one mbox file.
package mbox

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/iruzo/rimap/naming"
)

// DefaultSender fills the mbox separator line when a message has no usable
// From address.
const DefaultSender = "MAILER-DAEMON"

// ErrOutputExists is returned when the destination mbox is already present.
var ErrOutputExists = errors.New("output file already exists")

// Export writes every .eml file in dir, in filename order, to a new mbox file
// at out and returns how many messages it wrote. Because archive names start
// with the timestamp, filename order is chronological. out must not exist.
func Export(ctx context.Context, dir, out string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	names, err := archivedFiles(dir)
	if err != nil {
		return 0, err
	}

	file, err := os.OpenFile(out, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return 0, fmt.Errorf("%s: %w", out, ErrOutputExists)
		}
		return 0, fmt.Errorf("create mbox: %w", err)
	}

	count, err := writeAll(ctx, file, dir, names, logger)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close mbox: %w", closeErr)
	}
	if err != nil {
		_ = os.Remove(out)
		return 0, err
	}

	logger.Info("mbox exported", "dir", dir, "out", out, "messages", count)
	return count, nil
}

func writeAll(ctx context.Context, file *os.File, dir string, names []string, logger *slog.Logger) (int, error) {
	buf := bufio.NewWriter(file)
	mw := mboxlib.NewWriter(buf)

	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return i, err
		}

		path := filepath.Join(dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			return i, fmt.Errorf("read %s: %w", path, err)
		}
		info, err := os.Stat(path)
		if err != nil {
			return i, fmt.Errorf("stat %s: %w", path, err)
		}

		from, date := envelope(raw, info.ModTime())
		logger.Debug("exporting message", "file", name, "from", from, "date", date)

		w, err := mw.CreateMessage(from, date)
		if err != nil {
			return i, fmt.Errorf("mbox message %s: %w", name, err)
		}
		if _, err := w.Write(raw); err != nil {
			return i, fmt.Errorf("write %s: %w", name, err)
		}
	}

	if err := mw.Close(); err != nil {
		return len(names), fmt.Errorf("finish mbox: %w", err)
	}
	if err := buf.Flush(); err != nil {
		return len(names), fmt.Errorf("flush mbox: %w", err)
	}
	if err := file.Sync(); err != nil {
		return len(names), fmt.Errorf("sync mbox: %w", err)
	}
	return len(names), nil
}

// archivedFiles lists the .eml files of dir in name order. Temporary and
// hidden files are left out.
func archivedFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read archive dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") || filepath.Ext(name) != naming.Extension {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// envelope returns the address and date for the separator line of raw.
// Unparseable headers fall back to DefaultSender and fallback.
func envelope(raw []byte, fallback time.Time) (string, time.Time) {
	from, date := DefaultSender, fallback

	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return from, date
	}
	header := mail.Header{Header: message.Header{Header: h}}

	if addrs, err := header.AddressList("From"); err == nil && len(addrs) > 0 && addrs[0].Address != "" {
		from = addrs[0].Address
	}
	if t, err := header.Date(); err == nil && !t.IsZero() {
		date = t
	}
	return from, date
}
