package pgdao

import (
	"strings"

	"go.jetify.com/typeid"
)

// TypeIDGenerator stamps new row ids as "<prefix>_<suffix>", the suffix
// being the 26-character base32 form of a fresh UUIDv7, grounded on
// the corpus's use of go.jetify.com/typeid to stamp event ids
// (typeid_helpers.go) — repurposed here to stamp model row ids instead.
type TypeIDGenerator struct {
	prefix string
}

// NewTypeIDGenerator builds a generator whose ids are prefixed with a
// sanitized form of prefix (lowercased, non [a-z0-9_] runs collapsed to a
// single underscore).
func NewTypeIDGenerator(prefix string) *TypeIDGenerator {
	return &TypeIDGenerator{prefix: sanitizeTypeIDPrefix(prefix)}
}

// GetNextID satisfies IDGenerator. The spec requires only that it be
// called within the same transaction as the subsequent INSERT; since
// TypeIDGenerator needs no server round-trip, any session (or nil) works.
func (g *TypeIDGenerator) GetNextID(_ *Session) (string, error) {
	tid, err := typeid.WithPrefix(g.prefix)
	if err != nil {
		return "", newModelError("getNextId", err)
	}
	return tid.String(), nil
}

func sanitizeTypeIDPrefix(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	return out
}
