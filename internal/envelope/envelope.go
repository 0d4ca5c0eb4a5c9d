// Package envelope detects JSON wrappers around markup fragments, as returned by
// the site's structured listing endpoint, and unwraps them to raw markup.
package envelope

import (
	"bytes"
	"strings"

	"github.com/tidwall/gjson"
)

// payloadKeys are probed in order on envelope objects.
var payloadKeys = []string{"content", "html", "data", "payload", "result"}

const maxDepth = 2

// Unwrap returns the markup carried by a JSON envelope and true, or body and
// false when body is not an envelope. The payload may be a single string or an
// array of fragments, which are joined with newlines.
func Unwrap(body []byte) ([]byte, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !strings.ContainsRune(`{["`, rune(trimmed[0])) {
		return body, false
	}
	if !gjson.ValidBytes(trimmed) {
		return body, false
	}
	markup, ok := extract(gjson.ParseBytes(trimmed), 0)
	if !ok {
		return body, false
	}
	return []byte(markup), true
}

func extract(r gjson.Result, depth int) (string, bool) {
	switch {
	case r.Type == gjson.String:
		return r.String(), true
	case r.IsArray():
		parts := r.Array()
		fragments := make([]string, 0, len(parts))
		for _, p := range parts {
			if p.Type != gjson.String {
				return "", false
			}
			fragments = append(fragments, p.String())
		}
		return strings.Join(fragments, "\n"), true
	case r.IsObject() && depth < maxDepth:
		for _, key := range payloadKeys {
			v := r.Get(key)
			if !v.Exists() {
				continue
			}
			if markup, ok := extract(v, depth+1); ok {
				return markup, true
			}
		}
	}
	return "", false
}
