package memory

import (
	"cmp"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"slices"
	"strings"
	"unicode"

	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/internal/util"
)

// DefaultSearchLimit caps results when a query does not set a limit.
const DefaultSearchLimit = 10

// RecordsFromSession extracts memory candidates from sess: every non-partial
// event with text, plus compaction summaries. Function calls and responses
// carry no text payload and are skipped.
func RecordsFromSession(sess *core.Session) []core.MemoryRecord {
	var out []core.MemoryRecord

	for _, ev := range sess.GetEvents() {
		if ev.IsPartial() {
			continue
		}

		var text strings.Builder

		for _, p := range ev.Payloads() {
			core.VisitPayload(p, core.PayloadVisitor{
				Text: func(t core.TextPayload) { text.WriteString(t.Text) },
				Compaction: func(c core.CompactionPayload) {
					if s, ok := c.Compaction.Summary.Text(); ok {
						text.WriteString(s)
					}
				},
			})
		}

		content := strings.TrimSpace(text.String())
		if content == "" {
			continue
		}

		out = append(out, core.MemoryRecord{
			ID:          util.NewShortID("mem"),
			AppName:     sess.AppName,
			UserID:      sess.UserID,
			SessionID:   sess.ID,
			Author:      ev.Author,
			Content:     content,
			ContentHash: ContentHash(sess.AppName, sess.UserID, content),
			Timestamp:   ev.Timestamp,
		})
	}

	return out
}

// Normalize trims, collapses whitespace and lowercases content.
func Normalize(content string) string {
	return strings.ToLower(strings.Join(strings.Fields(content), " "))
}

// ContentHash is the dedup key of a record: hex sha256 over app, user and
// normalized content. Each component is length-prefixed, so no choice of
// app or user name can make two scopes hash alike.
func ContentHash(appName, userID, content string) string {
	h := sha256.New()

	for _, part := range []string{appName, userID, Normalize(content)} {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(part)))
		h.Write(n[:])
		h.Write([]byte(part))
	}

	return hex.EncodeToString(h.Sum(nil))
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"do": {}, "for": {}, "from": {}, "has": {}, "have": {}, "how": {}, "i": {},
	"in": {}, "is": {}, "it": {}, "me": {}, "my": {}, "of": {}, "on": {}, "or": {},
	"that": {}, "the": {}, "this": {}, "to": {}, "was": {}, "what": {}, "when": {},
	"where": {}, "which": {}, "who": {}, "why": {}, "with": {}, "you": {}, "your": {},
}

// Tokenize returns the distinct lowercase keywords of s, without stopwords
// and tokens shorter than two characters.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))

	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}

		if _, stop := stopwords[f]; stop {
			continue
		}

		if _, dup := seen[f]; dup {
			continue
		}

		seen[f] = struct{}{}
		out = append(out, f)
	}

	return out
}

// Score returns the fraction of queryTokens present in content.
func Score(queryTokens []string, content string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}

	present := make(map[string]struct{})
	for _, t := range Tokenize(content) {
		present[t] = struct{}{}
	}

	hits := 0

	for _, t := range queryTokens {
		if _, ok := present[t]; ok {
			hits++
		}
	}

	return float64(hits) / float64(len(queryTokens))
}

// Rank scores candidates against query, drops misses, orders by score then
// recency and truncates to limit (DefaultSearchLimit when <= 0).
func Rank(candidates []core.MemoryRecord, query string, limit int) []core.MemoryRecord {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	tokens := Tokenize(query)
	out := make([]core.MemoryRecord, 0)

	for _, r := range candidates {
		score := Score(tokens, r.Content)
		if score == 0 {
			continue
		}

		r.Score = score
		out = append(out, r)
	}

	slices.SortStableFunc(out, func(a, b core.MemoryRecord) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}

		return b.Timestamp.Compare(a.Timestamp)
	})

	if len(out) > limit {
		out = out[:limit]
	}

	return out
}
