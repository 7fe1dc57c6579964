// Package naming derives the stable, sortable archive filename of a message
// from its raw From and Date header values.
//
// Dates are normalized with a lenient policy: a field that cannot be read
// falls back to zeros, so derivation never fails. Month names are matched
// case-sensitively against Jan..Dec.
package naming

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// UnknownSender replaces the sender fragment of messages without a From line.
	UnknownSender = "unknown_sender"
	// Extension is appended to every archived message.
	Extension = ".eml"

	maxSenderLen = 200
	maxDayLen    = 2
	maxYearLen   = 4
)

var months = map[string]string{
	"Jan": "01",
	"Feb": "02",
	"Mar": "03",
	"Apr": "04",
	"May": "05",
	"Jun": "06",
	"Jul": "07",
	"Aug": "08",
	"Sep": "09",
	"Oct": "10",
	"Nov": "11",
	"Dec": "12",
}

// Derive returns "<timestamp>_<sender>" for the given raw header values.
func Derive(rawFrom, rawDate string) string {
	return Timestamp(rawDate) + "_" + Sender(rawFrom)
}

// FileName is Derive plus the .eml extension.
func FileName(rawFrom, rawDate string) string {
	return Derive(rawFrom, rawDate) + Extension
}

// Sender lowercases rawFrom, turns spaces into underscores and, when the
// value carries an address in angle brackets, keeps only the text between
// the last '<' and the last '>'.
func Sender(rawFrom string) string {
	s := strings.ToLower(strings.ReplaceAll(rawFrom, " ", "_"))
	start := strings.LastIndexByte(s, '<')
	end := strings.LastIndexByte(s, '>')
	if start >= 0 && end > start {
		s = s[start+1 : end]
	}

	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, s)

	if len(s) > maxSenderLen {
		cut := maxSenderLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}

// Timestamp normalizes an RFC 2822 style date such as
// "Mon, 3 Jan 2022 04:05:06 +0000" into "20220103040506".
//
// Fields are read by position (day, month, year, time). Missing or
// unreadable day, month and year become "00"; a missing or malformed time
// becomes "000000". A field is unreadable unless it is all digits and at
// most maxDayLen, maxYearLen or two digits per clock part long, so the
// result only ever holds ASCII digits. The leading weekday may be omitted
// when the first token is the day and the second a month name.
func Timestamp(rawDate string) string {
	parts := strings.Fields(rawDate)
	if len(parts) > 1 && isDigits(parts[0]) && isMonth(parts[1]) {
		parts = append([]string{""}, parts...)
	}

	day := pad2(digitsOr(field(parts, 1, ""), maxDayLen, "00"))
	month, ok := months[field(parts, 2, "")]
	if !ok {
		month = "00"
	}
	year := digitsOr(field(parts, 3, ""), maxYearLen, "00")

	clock := strings.Split(field(parts, 4, "00:00:00"), ":")
	if len(clock) != 3 {
		clock = []string{"00", "00", "00"}
	}
	for _, c := range clock {
		if digitsOr(c, 2, "") == "" {
			clock = []string{"00", "00", "00"}
			break
		}
	}

	var b strings.Builder
	b.Grow(14)
	b.WriteString(year)
	b.WriteString(month)
	b.WriteString(day)
	for _, c := range clock {
		b.WriteString(pad2(c))
	}
	return b.String()
}

// ExtractHeaders scans the header block of raw (up to the first empty line)
// for the first From: and Date: lines. A missing From yields UnknownSender; a
// missing Date yields now as decimal epoch seconds.
func ExtractHeaders(raw []byte, now func() time.Time) (from, date string) {
	values, found := scanHeader(raw, "from:", "date:")

	from, date = values[0], values[1]
	if !found[0] {
		from = UnknownSender
	}
	if !found[1] {
		if now == nil {
			now = time.Now
		}
		date = strconv.FormatInt(now().Unix(), 10)
	}
	return from, date
}

// MessageID returns the trimmed value of the first Message-ID: line in the
// header block of raw, or "" if there is none.
func MessageID(raw []byte) string {
	values, _ := scanHeader(raw, "message-id:")
	return values[0]
}

// Disambiguate inserts a short digest of messageID before the extension of
// name. It gives a second, still deterministic, name to a message whose
// derived name is taken by a different message.
func Disambiguate(name, messageID string) string {
	sum := sha256.Sum256([]byte(messageID))
	return strings.TrimSuffix(name, Extension) + "_" + hex.EncodeToString(sum[:4]) + Extension
}

// Parse splits an archive filename back into its timestamp and sender
// fragments. ok is false for names this package could not have produced.
func Parse(name string) (timestamp, sender string, ok bool) {
	base, found := strings.CutSuffix(name, Extension)
	if !found {
		return "", "", false
	}
	timestamp, sender, found = strings.Cut(base, "_")
	if !found || sender == "" || !isDigits(timestamp) || (len(timestamp) != 12 && len(timestamp) != 14) {
		return "", "", false
	}
	return timestamp, sender, true
}

// scanHeader returns, for each lowercase prefix, the trimmed remainder of the
// first header line starting with it (case-insensitively).
func scanHeader(raw []byte, prefixes ...string) ([]string, []bool) {
	values := make([]string, len(prefixes))
	found := make([]bool, len(prefixes))
	remaining := len(prefixes)

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for remaining > 0 && scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			break
		}
		lower := strings.ToLower(line)
		for i, prefix := range prefixes {
			if !found[i] && strings.HasPrefix(lower, prefix) {
				values[i] = strings.TrimSpace(line[len(prefix):])
				found[i] = true
				remaining--
				break
			}
		}
	}
	return values, found
}

func field(parts []string, i int, def string) string {
	if i < len(parts) && parts[i] != "" {
		return parts[i]
	}
	return def
}

// digitsOr returns s if it is all ASCII digits and at most limit long, def
// otherwise.
func digitsOr(s string, limit int, def string) string {
	if len(s) > limit || !isDigits(s) {
		return def
	}
	return s
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

func isMonth(s string) bool {
	_, ok := months[s]
	return ok
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
