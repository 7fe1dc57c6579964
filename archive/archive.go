// Package archive writes every message of a selected mailbox to disk, one
// .eml file per message, skipping messages whose file already exists.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/iruzo/rimap/imap"
	"github.com/iruzo/rimap/model"
	"github.com/iruzo/rimap/naming"
	"github.com/iruzo/rimap/state"
	"github.com/iruzo/rimap/stats"
)

// Session is the part of an IMAP session the archiver needs. A mailbox must
// already be selected.
type Session interface {
	SearchAll(ctx context.Context) ([]uint32, error)
	FetchHeader(ctx context.Context, seqNum uint32) ([]byte, error)
	FetchMessage(ctx context.Context, seqNum uint32) ([]byte, error)
}

// Emitter receives progress events.
type Emitter interface {
	EmitEvent(stats.Event)
}

// FilesystemError reports a failure creating or writing archive files. It is
// fatal to the run.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

type Options struct {
	// DryRun derives names and reports would-be downloads without writing.
	DryRun bool
	// Now stands in for the clock when a message has no Date header.
	Now func() time.Time
}

// Target says where one mailbox is archived.
type Target struct {
	Account model.Account
	Mailbox string
	Dir     string
}

type Archiver struct {
	opts    Options
	tracker state.Tracker
	emitter Emitter
	logger  *slog.Logger
}

// New returns an Archiver. tracker may be nil, which disables the
// manifest.
func New(opts Options, tracker state.Tracker, emitter Emitter, logger *slog.Logger) *Archiver {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Archiver{opts: opts, tracker: tracker, emitter: emitter, logger: logger}
}

// Archive stores every message of the selected mailbox in target.Dir and
// returns how many files it wrote. Existing files are never overwritten.
//
// A message that cannot be fetched is logged and skipped. Filesystem errors
// and a closed session abort the mailbox and are returned.
func (a *Archiver) Archive(ctx context.Context, sess Session, target Target) (int, error) {
	// Manifest keys are absolute paths.
	dir, err := filepath.Abs(target.Dir)
	if err != nil {
		return 0, &FilesystemError{Op: "resolve", Path: target.Dir, Err: err}
	}
	target.Dir = dir

	if !a.opts.DryRun {
		if err := os.MkdirAll(target.Dir, 0o755); err != nil {
			return 0, &FilesystemError{Op: "create directory", Path: target.Dir, Err: err}
		}
	}

	seqNums, err := sess.SearchAll(ctx)
	if err != nil {
		return 0, err
	}

	logger := a.logger.With("account", target.Account.String(), "mailbox", target.Mailbox)
	logger.Debug("archiving mailbox", "messages", len(seqNums), "dir", target.Dir)

	written := 0
	for _, seqNum := range seqNums {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		ok, err := a.archiveMessage(ctx, sess, target, seqNum, logger)
		if ok {
			written++
		}
		if err != nil {
			var fsErr *FilesystemError
			if errors.As(err, &fsErr) || errors.Is(err, imap.ErrSessionClosed) {
				return written, err
			}
			logger.Warn("skipping message", "seq", seqNum, "err", err)
			a.emit(stats.Event{Stage: stats.StageMessage, Type: stats.EventTypeError, Account: target.Account, Mailbox: target.Mailbox, Err: err})
			continue
		}
	}

	return written, nil
}

func (a *Archiver) archiveMessage(ctx context.Context, sess Session, target Target, seqNum uint32, logger *slog.Logger) (bool, error) {
	msg := model.Message{Mailbox: target.Mailbox, SeqNum: seqNum}

	header, err := sess.FetchHeader(ctx, seqNum)
	if err != nil {
		return false, err
	}
	if header == nil {
		if msg.Raw, err = sess.FetchMessage(ctx, seqNum); err != nil {
			return false, err
		}
		header = msg.Raw
	}

	msg.From, msg.Date = naming.ExtractHeaders(header, a.opts.Now)
	msg.MessageID = naming.MessageID(header)

	derived := naming.FileName(msg.From, msg.Date)
	name, present, err := a.resolveName(target.Dir, derived, msg.MessageID)
	if err != nil {
		return false, err
	}
	path := filepath.Join(target.Dir, name)
	evt := stats.Event{Stage: stats.StageMessage, Account: target.Account, Mailbox: target.Mailbox, File: name}

	if present {
		logger.Debug("mail already present", "seq", seqNum, "file", name)
		evt.Type = stats.EventTypeAlreadyPresent
		a.emit(evt)
		return false, nil
	}

	if a.opts.DryRun {
		logger.Debug("dry-run download", "seq", seqNum, "file", name)
		evt.Type = stats.EventTypeDryRun
		a.emit(evt)
		return false, nil
	}

	if msg.Raw == nil {
		if msg.Raw, err = sess.FetchMessage(ctx, seqNum); err != nil {
			return false, err
		}
	}

	if err := writeFile(target.Dir, name, msg.Raw); err != nil {
		return false, err
	}

	if a.tracker != nil {
		if err := a.tracker.MarkArchived(path, msg.MessageID); err != nil {
			return true, &FilesystemError{Op: "record manifest", Path: path, Err: err}
		}
	}

	logger.Debug("downloaded", "seq", seqNum, "file", name, "size", len(msg.Raw))
	if name != derived {
		collision := evt
		collision.Type = stats.EventTypeCollision
		a.emit(collision)
	}
	evt.Type = stats.EventTypeDownloaded
	a.emit(evt)
	return true, nil
}

// resolveName decides the file a message belongs in and whether it is
// already there. Without a manifest, an existing file always means "already
// archived". With one, a file recorded under a different Message-ID is a
// collision, and the message moves to its disambiguated name instead.
func (a *Archiver) resolveName(dir, name, messageID string) (string, bool, error) {
	present, err := exists(filepath.Join(dir, name))
	if err != nil || !present {
		return name, present, err
	}
	if a.tracker == nil || messageID == "" {
		return name, true, nil
	}

	recorded, ok := a.tracker.Lookup(filepath.Join(dir, name))
	if !ok || recorded == "" || recorded == messageID {
		return name, true, nil
	}

	alt := naming.Disambiguate(name, messageID)
	a.logger.Debug("filename collision", "file", name, "messageID", messageID, "recorded", recorded, "alt", alt)
	present, err = exists(filepath.Join(dir, alt))
	return alt, present, err
}

func (a *Archiver) emit(evt stats.Event) {
	if a.emitter != nil {
		a.emitter.EmitEvent(evt)
	}
}

func exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, &FilesystemError{Op: "stat", Path: path, Err: err}
	}
}

// writeFile stores raw verbatim at dir/name via a temporary file, so an
// interrupted write never leaves a truncated .eml behind.
func writeFile(dir, name string, raw []byte) error {
	path := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return &FilesystemError{Op: "create", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return &FilesystemError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return &FilesystemError{Op: "sync", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &FilesystemError{Op: "close", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &FilesystemError{Op: "rename", Path: path, Err: err}
	}
	tmpName = ""
	return nil
}
