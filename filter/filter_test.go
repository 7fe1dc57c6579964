package filter

import (
	"testing"
)

func TestFilter_Allows_IncludeMode(t *testing.T) {
	f, err := New(Options{Include: []string{"^INBOX"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !f.Allows("INBOX") || !f.Allows("INBOX/Receipts") {
		t.Error("Expected INBOX mailboxes to be allowed")
	}
	if f.Allows("Sent") {
		t.Error("Expected Sent to be filtered out")
	}
}

func TestFilter_Allows_ExcludeMode(t *testing.T) {
	f, err := New(Options{Exclude: []string{`^\[Gmail\]/(Spam|Trash)$`}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !f.Allows("INBOX") {
		t.Error("Expected INBOX to be allowed")
	}
	if f.Allows("[Gmail]/Spam") {
		t.Error("Expected [Gmail]/Spam to be filtered out")
	}
}

func TestFilter_MutuallyExclusive(t *testing.T) {
	if _, err := New(Options{Include: []string{"a"}, Exclude: []string{"b"}}); err == nil {
		t.Error("Expected error when both include and exclude are specified")
	}
}

func TestFilter_NoFilters(t *testing.T) {
	f, err := New(Options{Include: []string{"  "}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !f.Allows("Anything") {
		t.Error("Expected mailbox to be allowed when no filters are active")
	}
}

func TestFilter_InvalidPattern(t *testing.T) {
	if _, err := New(Options{Exclude: []string{"("}}); err == nil {
		t.Error("Expected error for invalid pattern")
	}
}
