package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/subosito/gotenv"
)

var (
	// ErrCredentialFileNotFound is returned when the env file does not exist.
	ErrCredentialFileNotFound = errors.New("credential file not found")

	// ErrCredentialMissing is returned when the key is absent or empty.
	ErrCredentialMissing = errors.New("credential missing")
)

// LoadCredential reads key from the env file at path. The file holds
// key=value lines; blank lines, # comments and lines that are not
// assignments are ignored. Quotes around values are stripped. Unquoted values
// are taken literally, so '#' and '$' inside a key survive.
func LoadCredential(path, key string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrCredentialFileNotFound, path)
		}

		return "", fmt.Errorf("open credential file: %w", err)
	}
	defer f.Close()

	normalized, err := normalizeEnv(f)
	if err != nil {
		return "", fmt.Errorf("read credential file %s: %w", path, err)
	}

	env, err := gotenv.StrictParse(strings.NewReader(normalized))
	if err != nil {
		return "", fmt.Errorf("parse credential file %s: %w", path, err)
	}

	value := strings.TrimSpace(env[key])
	if value == "" {
		return "", fmt.Errorf("%w: %s in %s", ErrCredentialMissing, key, path)
	}

	return value, nil
}

var envName = regexp.MustCompile(`^(export\s+)?[A-Za-z_][A-Za-z0-9_.]*$`)

var doubleQuoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`)

// normalizeEnv keeps the assignment lines of r and quotes unquoted values.
func normalizeEnv(r io.Reader) (string, error) {
	var (
		b    strings.Builder
		open byte // quote of a value continuing on the next line
	)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if open != 0 {
			b.WriteString(sc.Text())
			b.WriteByte('\n')

			if strings.IndexByte(sc.Text(), open) >= 0 {
				open = 0
			}

			continue
		}

		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		name, value, ok := strings.Cut(line, "=")
		name = strings.TrimSpace(name)

		if !ok || !envName.MatchString(name) {
			continue
		}

		value = strings.TrimSpace(value)
		if value != "" && (value[0] == '"' || value[0] == '\'') && strings.IndexByte(value[1:], value[0]) < 0 {
			open = value[0]
		}

		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(quoteValue(value))
		b.WriteByte('\n')
	}

	return b.String(), sc.Err()
}

func quoteValue(v string) string {
	switch {
	case v == "", v[0] == '"', v[0] == '\'':
		return v
	case !strings.Contains(v, "'"):
		return "'" + v + "'"
	default:
		return `"` + doubleQuoteEscaper.Replace(v) + `"`
	}
}
