package config

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Format selects how an account file is parsed.
type Format string

const (
	FormatAuto     Format = "auto"
	FormatCSV      Format = "csv"
	FormatKeyValue Format = "keyvalue"
)

// Layout decides where an account's messages land.
type Layout int

const (
	// LayoutPerAccount writes to <root>/<server>_<username>/.
	LayoutPerAccount Layout = iota
	// LayoutFlat writes straight into local_dir.
	LayoutFlat
)

// Account is one mail account to archive. All fields are required.
type Account struct {
	Server   string
	Username string
	Password string
	LocalDir string
}

// LogValue keeps the password out of logs.
func (a Account) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("server", a.Server),
		slog.String("username", a.Username),
		slog.String("localDir", a.LocalDir),
	)
}

// DirName is the per-account subdirectory name: <server>_<username>.
func (a Account) DirName() string {
	return a.Server + "_" + a.Username
}

// TargetDir resolves where the account's messages are written. With docker
// set, every account lives below DockerRoot regardless of layout.
func (a Account) TargetDir(layout Layout, docker bool) string {
	if docker {
		return filepath.Join(DockerRoot, a.DirName())
	}
	if layout == LayoutFlat {
		return a.LocalDir
	}
	return filepath.Join(a.LocalDir, a.DirName())
}

// ConfigError reports a missing or malformed configuration value.
type ConfigError struct {
	Path string
	Line int
	Msg  string
	Err  error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("config")
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, " line %d", e.Line)
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var keyValueKeys = map[string]bool{
	"server":    true,
	"username":  true,
	"password":  true,
	"local_dir": true,
}

// LoadAccounts reads the account file at path. CSV files hold one account
// per row and use LayoutPerAccount; key=value files hold exactly one account
// and use LayoutFlat.
func LoadAccounts(path string, format Format) ([]Account, Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, &ConfigError{Path: path, Msg: "read", Err: err}
	}

	if format == "" || format == FormatAuto {
		format = DetectFormat(data)
	}

	switch format {
	case FormatCSV:
		accounts, err := ParseCSV(bytes.NewReader(data))
		if err != nil {
			return nil, 0, withPath(err, path)
		}
		return accounts, LayoutPerAccount, nil
	case FormatKeyValue:
		account, err := ParseKeyValue(bytes.NewReader(data))
		if err != nil {
			return nil, 0, withPath(err, path)
		}
		return []Account{account}, LayoutFlat, nil
	default:
		return nil, 0, &ConfigError{Path: path, Msg: fmt.Sprintf("unknown format %q", format)}
	}
}

// DetectFormat looks at the first significant line: "<known key>=" means
// key=value, anything else is CSV.
func DetectFormat(data []byte) Format {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, _, ok := strings.Cut(line, "=")
		if ok && keyValueKeys[strings.TrimSpace(key)] {
			return FormatKeyValue
		}
		return FormatCSV
	}
	return FormatCSV
}

// ParseCSV reads headerless server,username,password,local_dir rows.
func ParseCSV(r io.Reader) ([]Account, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var accounts []Account
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ConfigError{Msg: "parse csv", Err: err}
		}
		line, _ := reader.FieldPos(0)

		account := Account{
			Server:   fieldAt(record, 0),
			Username: fieldAt(record, 1),
			Password: rawFieldAt(record, 2),
			LocalDir: fieldAt(record, 3),
		}
		if err := account.validate(); err != nil {
			err.Line = line
			return nil, err
		}
		accounts = append(accounts, account)
	}

	if len(accounts) == 0 {
		return nil, &ConfigError{Msg: "no accounts configured"}
	}
	return accounts, nil
}

// ParseKeyValue reads a single account from key=value lines. Blank lines and
// lines starting with '#' are ignored, as are unknown keys. Values are taken
// verbatim after trimming, so passwords may contain '=', '#' or '$'.
func ParseKeyValue(r io.Reader) (Account, error) {
	var account Account

	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, value, ok := strings.Cut(text, "=")
		if !ok {
			return Account{}, &ConfigError{Line: line, Msg: "expected key=value"}
		}
		value = strings.TrimSpace(value)

		switch strings.TrimSpace(key) {
		case "server":
			account.Server = value
		case "username":
			account.Username = value
		case "password":
			account.Password = value
		case "local_dir":
			account.LocalDir = value
		}
	}
	if err := scanner.Err(); err != nil {
		return Account{}, &ConfigError{Msg: "read", Err: err}
	}

	if err := account.validate(); err != nil {
		return Account{}, err
	}
	return account, nil
}

func (a Account) validate() *ConfigError {
	var missing []string
	if a.Server == "" {
		missing = append(missing, "server")
	}
	if a.Username == "" {
		missing = append(missing, "username")
	}
	if a.Password == "" {
		missing = append(missing, "password")
	}
	if a.LocalDir == "" {
		missing = append(missing, "local_dir")
	}
	if len(missing) > 0 {
		return &ConfigError{Msg: "missing configuration values: " + strings.Join(missing, ", ")}
	}
	return nil
}

func fieldAt(record []string, i int) string {
	if i < len(record) {
		return strings.TrimSpace(record[i])
	}
	return ""
}

func rawFieldAt(record []string, i int) string {
	if i < len(record) {
		return record[i]
	}
	return ""
}

func withPath(err error, path string) error {
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) && cfgErr.Path == "" {
		cfgErr.Path = path
	}
	return err
}
