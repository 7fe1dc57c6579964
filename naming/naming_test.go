package naming

import (
	"sort"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
)

func TestSender(t *testing.T) {
	tests := []struct {
		name string
		from string
		want string
	}{
		{name: "display name and address", from: "John Doe <j@x.com>", want: "j@x.com"},
		{name: "bare bracketed address", from: "<a@b.com>", want: "a@b.com"},
		{name: "name and address", from: "Name <a@b.com>", want: "a@b.com"},
		{name: "quoted display name", from: `"Doe, John" <John.Doe@Example.COM>`, want: "john.doe@example.com"},
		{name: "no brackets", from: "Foo Bar", want: "foo_bar"},
		{name: "plain address", from: "Someone@Example.com", want: "someone@example.com"},
		{name: "reversed brackets", from: "a > b < c", want: "a_>_b_<_c"},
		{name: "last bracket pair wins", from: "<x@y> via <z@w>", want: "z@w"},
		{name: "path separators", from: "evil/../name", want: "evil_.._name"},
		{name: "backslash", from: `dom\user`, want: "dom_user"},
		{name: "placeholder", from: UnknownSender, want: UnknownSender},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sender(tt.from); got != tt.want {
				t.Errorf("Sender(%q) = %q, want %q", tt.from, got, tt.want)
			}
		})
	}
}

func TestSenderLength(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'a'
	}
	if got := Sender(string(long)); len(got) != maxSenderLen {
		t.Fatalf("len(Sender) = %d, want %d", len(got), maxSenderLen)
	}

	// 199 ASCII bytes put the 200-byte limit inside the two-byte "é".
	multi := strings.Repeat("a", maxSenderLen-1) + strings.Repeat("é", 10)
	got := Sender(multi)
	if !utf8.ValidString(got) {
		t.Fatalf("Sender() = %q, not valid UTF-8", got)
	}
	if want := strings.Repeat("a", maxSenderLen-1); got != want {
		t.Fatalf("Sender() kept %d bytes, want %d", len(got), len(want))
	}
}

func TestTimestamp(t *testing.T) {
	tests := []struct {
		name string
		date string
		want string
	}{
		{name: "rfc 2822", date: "Mon, 3 Jan 2022 04:05:06 +0000", want: "20220103040506"},
		{name: "surrounding whitespace", date: "  Mon,\t3   Jan 2022  04:05:06   +0000 ", want: "20220103040506"},
		{name: "two digit day", date: "Fri, 31 Dec 1999 23:59:59 -0800", want: "19991231235959"},
		{name: "zone comment", date: "Tue, 15 Nov 1994 08:12:31 GMT (Pacific)", want: "19941115081231"},
		{name: "no weekday", date: "3 Jan 2022 04:05:06 +0000", want: "20220103040506"},
		{name: "single digit clock", date: "Mon, 3 Jan 2022 4:5:6 +0000", want: "20220103040506"},
		{name: "garbage", date: "garbage", want: "000000000000"},
		{name: "empty", date: "", want: "000000000000"},
		{name: "epoch seconds", date: "1760000000", want: "000000000000"},
		{name: "lowercase month", date: "Mon, 3 jan 2022 04:05:06 +0000", want: "20220003040506"},
		{name: "missing time", date: "Mon, 3 Jan 2022", want: "20220103000000"},
		{name: "short time", date: "Mon, 3 Jan 2022 04:05 +0000", want: "20220103000000"},
		{name: "slash date", date: "Tue, 1/2/2022 10:00 AM", want: "000000000000"},
		{name: "over-long year", date: "Mon, 3 Jan " + strings.Repeat("9", 300) + " 04:05:06", want: "000103040506"},
		{name: "over-long day", date: "Mon, 123 Jan 2022 04:05:06", want: "20220100040506"},
		{name: "separator in time", date: "Mon, 3 Jan 2022 04/05:06:07", want: "20220103000000"},
		{name: "nul in year", date: "Mon, 3 Jan 20\x0022 04:05:06", want: "000103040506"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Timestamp(tt.date); got != tt.want {
				t.Errorf("Timestamp(%q) = %q, want %q", tt.date, got, tt.want)
			}
		})
	}
}

func TestDerive(t *testing.T) {
	got := Derive("John Doe <j@x.com>", "Mon, 3 Jan 2022 04:05:06 +0000")
	if want := "20220103040506_j@x.com"; got != want {
		t.Fatalf("Derive() = %q, want %q", got, want)
	}
	if got := FileName("John Doe <j@x.com>", "Mon, 3 Jan 2022 04:05:06 +0000"); got != "20220103040506_j@x.com.eml" {
		t.Fatalf("FileName() = %q", got)
	}
}

func TestFileNamesSortChronologically(t *testing.T) {
	dates := []string{
		"Sat, 1 Jan 2000 00:00:00 +0000",
		"Sun, 2 Jan 2000 00:00:00 +0000",
		"Mon, 3 Jan 2022 04:05:06 +0000",
		"Mon, 3 Jan 2022 04:05:07 +0000",
		"Thu, 10 Feb 2022 00:00:00 +0000",
		"Wed, 9 Nov 2022 13:00:00 +0000",
		"Mon, 1 Jan 2024 09:30:00 +0000",
	}

	var names []string
	for i := len(dates) - 1; i >= 0; i-- {
		names = append(names, FileName("Z <z@example.com>", dates[i]))
	}
	sort.Strings(names)

	var want []string
	for _, d := range dates {
		want = append(want, FileName("Z <z@example.com>", d))
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("sorted names mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractHeaders(t *testing.T) {
	fixed := func() time.Time { return time.Unix(1700000000, 0) }

	tests := []struct {
		name     string
		raw      string
		wantFrom string
		wantDate string
	}{
		{
			name:     "both present",
			raw:      "Received: x\r\nFrom: John Doe <j@x.com>\r\nDate: Mon, 3 Jan 2022 04:05:06 +0000\r\n\r\nbody\r\n",
			wantFrom: "John Doe <j@x.com>",
			wantDate: "Mon, 3 Jan 2022 04:05:06 +0000",
		},
		{
			name:     "case insensitive names",
			raw:      "FROM:   a@b.com  \nDATE: Mon, 3 Jan 2022 04:05:06 +0000\n\n",
			wantFrom: "a@b.com",
			wantDate: "Mon, 3 Jan 2022 04:05:06 +0000",
		},
		{
			name:     "first line wins",
			raw:      "From: first@x.com\nFrom: second@x.com\nDate: d1\nDate: d2\n\n",
			wantFrom: "first@x.com",
			wantDate: "d1",
		},
		{
			name:     "missing date",
			raw:      "From: a@b.com\r\nSubject: hi\r\n\r\nDate: in the body\r\n",
			wantFrom: "a@b.com",
			wantDate: "1700000000",
		},
		{
			name:     "missing from",
			raw:      "Date: Mon, 3 Jan 2022 04:05:06 +0000\n\nFrom: body line\n",
			wantFrom: UnknownSender,
			wantDate: "Mon, 3 Jan 2022 04:05:06 +0000",
		},
		{
			name:     "empty",
			raw:      "",
			wantFrom: UnknownSender,
			wantDate: "1700000000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, date := ExtractHeaders([]byte(tt.raw), fixed)
			if from != tt.wantFrom {
				t.Errorf("from = %q, want %q", from, tt.wantFrom)
			}
			if date != tt.wantDate {
				t.Errorf("date = %q, want %q", date, tt.wantDate)
			}
		})
	}
}

func TestMissingHeadersAreStable(t *testing.T) {
	raw := []byte("Subject: no sender, no date\r\n\r\nhello\r\n")

	first := FileName(ExtractHeaders(raw, func() time.Time { return time.Unix(1700000000, 0) }))
	second := FileName(ExtractHeaders(raw, func() time.Time { return time.Unix(1800000000, 0) }))
	if first != second {
		t.Fatalf("fallback names differ between runs: %q vs %q", first, second)
	}
	if want := "000000000000_unknown_sender.eml"; first != want {
		t.Fatalf("FileName() = %q, want %q", first, want)
	}
}

func TestMessageID(t *testing.T) {
	raw := []byte("From: a@b.com\r\nMessage-Id:  <abc@host>  \r\n\r\nMessage-ID: <body@host>\r\n")
	if got := MessageID(raw); got != "<abc@host>" {
		t.Fatalf("MessageID() = %q", got)
	}
	if got := MessageID([]byte("From: a@b.com\r\n\r\n")); got != "" {
		t.Fatalf("MessageID() = %q, want empty", got)
	}
}

func TestDisambiguate(t *testing.T) {
	name := "20220103040506_j@x.com.eml"
	a := Disambiguate(name, "<a@host>")
	b := Disambiguate(name, "<b@host>")

	if a == b {
		t.Fatalf("Disambiguate() gave %q for different ids", a)
	}
	if a != Disambiguate(name, "<a@host>") {
		t.Fatal("Disambiguate() not deterministic")
	}
	if len(a) != len(name)+9 || a[:len(name)-4] != name[:len(name)-4] || a[len(a)-4:] != Extension {
		t.Fatalf("Disambiguate() = %q", a)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		file       string
		wantTS     string
		wantSender string
		wantOK     bool
	}{
		{name: "derived", file: "20220103040506_j@x.com.eml", wantTS: "20220103040506", wantSender: "j@x.com", wantOK: true},
		{name: "fallback timestamp", file: "000000000000_unknown_sender.eml", wantTS: "000000000000", wantSender: "unknown_sender", wantOK: true},
		{name: "no extension", file: "20220103040506_j@x.com", wantOK: false},
		{name: "no sender", file: "20220103040506_.eml", wantOK: false},
		{name: "short timestamp", file: "2022_j@x.com.eml", wantOK: false},
		{name: "temp file", file: ".20220103040506_j@x.com.eml.123.tmp", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, sender, ok := Parse(tt.file)
			if ok != tt.wantOK || ts != tt.wantTS || sender != tt.wantSender {
				t.Errorf("Parse(%q) = %q, %q, %v; want %q, %q, %v", tt.file, ts, sender, ok, tt.wantTS, tt.wantSender, tt.wantOK)
			}
		})
	}

	if ts, sender, ok := Parse(FileName("John Doe <j@x.com>", "Mon, 3 Jan 2022 04:05:06 +0000")); !ok || ts != "20220103040506" || sender != "j@x.com" {
		t.Errorf("Parse(FileName(...)) = %q, %q, %v", ts, sender, ok)
	}
}
