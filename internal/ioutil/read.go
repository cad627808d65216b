package ioutil

import (
	"fmt"
	"io"
	"strings"
)

// ReadSnippet reads at most limit bytes of an upstream response body for use
// in error messages and logs. Surrounding whitespace is trimmed and a
// truncated body ends with "...". A failed read yields a description of the
// failure instead of an empty string.
func ReadSnippet(r io.Reader, limit int64) string {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return fmt.Sprintf("<unreadable: %v>", err)
	}
	truncated := int64(len(body)) > limit
	if truncated {
		body = body[:limit]
	}
	s := strings.TrimSpace(string(body))
	if truncated {
		s += "..."
	}
	return s
}
