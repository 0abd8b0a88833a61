package util

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholderRE matches {name}, {name?}, {app:name}, {user:name?} and
// {artifact.name}. Identifiers must start with a letter or underscore so JSON
// snippets like {"a": 1} inside instructions are left alone.
var placeholderRE = regexp.MustCompile(`\{+[^{}]*\}+`)

var identRE = regexp.MustCompile(`^(?:(?:app|user|temp):)?[A-Za-z_][A-Za-z0-9_]*$`)

// MissingKeyError reports a required instruction placeholder with no value
// in state.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("instruction references missing state key %q", e.Key)
}

// RenderInstruction replaces {key} placeholders in text with values from
// state. A trailing ? makes a key optional (rendered empty when absent). Keys
// may carry the app:, user: or temp: scope prefix. {artifact.<name>} and
// anything not shaped like a state key are left untouched.
func RenderInstruction(text string, state map[string]any) (string, error) {
	if !strings.Contains(text, "{") {
		return text, nil
	}

	var firstErr error

	out := placeholderRE.ReplaceAllStringFunc(text, func(m string) string {
		if firstErr != nil {
			return m
		}

		name := strings.TrimSpace(strings.Trim(m, "{}"))
		optional := strings.HasSuffix(name, "?")
		name = strings.TrimSuffix(name, "?")

		if strings.HasPrefix(name, "artifact.") || !identRE.MatchString(name) {
			return m
		}

		v, ok := state[name]
		if !ok || v == nil {
			if optional {
				return ""
			}

			firstErr = &MissingKeyError{Key: name}

			return m
		}

		return fmt.Sprint(v)
	})

	if firstErr != nil {
		return "", firstErr
	}

	return out, nil
}
