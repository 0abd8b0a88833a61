package util

import (
	"strings"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// NewID returns a random UUID string.
func NewID() string { return uuid.NewString() }

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewShortID returns a 16 character lowercase alphanumeric id with an
// optional prefix, e.g. "mem_3k9x...". Used for record ids that appear in
// prompts and logs.
func NewShortID(prefix string) string {
	id := gonanoid.MustGenerate(idAlphabet, 16)
	if prefix == "" {
		return id
	}

	return strings.TrimSuffix(prefix, "_") + "_" + id
}
