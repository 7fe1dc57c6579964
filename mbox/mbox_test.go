package mbox

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	mboxlib "github.com/emersion/go-mbox"
)

func writeArchive(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func readMbox(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var msgs []string
	r := mboxlib.NewReader(f)
	for {
		msg, err := r.NextMessage()
		if errors.Is(err, io.EOF) {
			return msgs
		}
		if err != nil {
			t.Fatalf("NextMessage() error = %v", err)
		}
		raw, err := io.ReadAll(msg)
		if err != nil {
			t.Fatal(err)
		}
		msgs = append(msgs, string(raw))
	}
}

func TestExport(t *testing.T) {
	dir := writeArchive(t, map[string]string{
		"20220103040506_j@x.com.eml":      "From: John <j@x.com>\r\nDate: Mon, 3 Jan 2022 04:05:06 +0000\r\nSubject: second\r\n\r\nbody\r\n",
		"000000000000_unknown_sender.eml": "Subject: first\r\n\r\nno headers\r\n",
		".20230101000000_a@b.eml.123.tmp": "partial",
		"notes.txt":                       "ignored",
	})
	out := filepath.Join(t.TempDir(), "archive.mbox")

	n, err := Export(context.Background(), dir, out, nil)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("Export() = %d messages, want 2", n)
	}

	msgs := readMbox(t, out)
	if len(msgs) != 2 {
		t.Fatalf("mbox holds %d messages, want 2", len(msgs))
	}
	if !strings.Contains(msgs[0], "Subject: first") || !strings.Contains(msgs[1], "Subject: second") {
		t.Fatalf("messages out of filename order: %q", msgs)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "From "+DefaultSender+" ") {
		t.Fatalf("first separator = %q, want default sender", strings.SplitN(string(data), "\n", 2)[0])
	}
	if !strings.Contains(string(data), "From j@x.com Mon Jan  3 04:05:06 2022") {
		t.Fatalf("missing separator for j@x.com:\n%s", data)
	}
}

func TestExportRefusesExistingOutput(t *testing.T) {
	dir := writeArchive(t, map[string]string{"20220103040506_j@x.com.eml": "Subject: x\r\n\r\n"})
	out := filepath.Join(t.TempDir(), "archive.mbox")
	if err := os.WriteFile(out, []byte("keep me"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := Export(context.Background(), dir, out, nil)
	if !errors.Is(err, ErrOutputExists) {
		t.Fatalf("Export() error = %v, want ErrOutputExists", err)
	}
	data, _ := os.ReadFile(out)
	if string(data) != "keep me" {
		t.Fatalf("existing output modified: %q", data)
	}
}

func TestExportMissingDir(t *testing.T) {
	out := filepath.Join(t.TempDir(), "archive.mbox")
	if _, err := Export(context.Background(), filepath.Join(t.TempDir(), "nope"), out, nil); err == nil {
		t.Fatal("Export() error = nil, want error for missing dir")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatal("Export() created output for a missing dir")
	}
}
