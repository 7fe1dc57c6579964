package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pterm/pterm"
)

func writeArchive(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"imap.example.com_alice/20220103040506_j@x.com.eml":           "Subject: a\r\n\r\n",
		"imap.example.com_alice/20220203040506_j@x.com.eml":           "Subject: b\r\n\r\n",
		"imap.example.com_alice/000000000000_unknown_sender.eml":      "Subject: c\r\n\r\n",
		"imap.example.com_bob/20230101000000_noreply@example.com.eml": "Subject: d\r\n\r\n",
		"imap.example.com_bob/.20230101000000_x@y.eml.1.tmp":          "partial",
	}
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestCollectArchiveStats(t *testing.T) {
	st, err := CollectArchiveStats(writeArchive(t))
	if err != nil {
		t.Fatalf("CollectArchiveStats() error = %v", err)
	}

	want := ArchiveStats{
		Total:   4,
		Senders: map[string]int{"j@x.com": 2, "unknown_sender": 1, "noreply@example.com": 1},
		Years:   map[string]int{"2022": 2, "2023": 1, unknownYear: 1},
	}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Fatalf("CollectArchiveStats() mismatch (-want +got):\n%s", diff)
	}
}

func TestStatsCommandWritesReports(t *testing.T) {
	pterm.DisableColor()
	defer pterm.EnableColor()

	reportDir := filepath.Join(t.TempDir(), "reports")
	cmd := NewStatsCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{writeArchive(t), "--output", reportDir, "--top", "1"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out.String(), "j@x.com") || strings.Contains(out.String(), "noreply@example.com") {
		t.Fatalf("top senders table wrong:\n%s", out.String())
	}

	data, err := os.ReadFile(filepath.Join(reportDir, "report_senders.csv"))
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if diff := cmp.Diff([]string{"Sender,Count", "j@x.com,2", "noreply@example.com,1", "unknown_sender,1"}, lines); diff != "" {
		t.Fatalf("sender report mismatch (-want +got):\n%s", diff)
	}
}

func TestExportCommand(t *testing.T) {
	pterm.DisableColor()
	defer pterm.EnableColor()

	root := writeArchive(t)
	out := filepath.Join(t.TempDir(), "alice.mbox")
	cmd := NewExportCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{filepath.Join(root, "imap.example.com_alice"), out})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(buf.String(), "Exported 3 messages") {
		t.Fatalf("output = %q", buf.String())
	}

	cmd = NewExportCommand()
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs([]string{filepath.Join(root, "imap.example.com_alice"), out})
	if err := cmd.Execute(); err == nil {
		t.Fatal("second export overwrote the existing mbox")
	}
}
