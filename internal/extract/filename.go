package extract

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// sanitizeRef converts a client reference into a filesystem-safe token.
// Example: "Case #42 / Müller" → "case-42-mueller"
func sanitizeRef(ref string) string {
	if ref == "" {
		return "session"
	}

	s := strings.ToLower(ref)

	replacer := strings.NewReplacer(
		"ä", "ae",
		"ö", "oe",
		"ü", "ue",
		"ß", "ss",
	)
	s = replacer.Replace(s)

	var b strings.Builder
	lastWasDash := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastWasDash = false
		} else if !lastWasDash {
			b.WriteRune('-')
			lastWasDash = true
		}
	}

	out := strings.Trim(b.String(), "-")
	for len(out) > 50 {
		// Trim whole runes so a multibyte letter is never cut in half.
		_, size := utf8.DecodeLastRuneInString(out)
		out = out[:len(out)-size]
	}
	out = strings.TrimRight(out, "-")
	if out == "" {
		return "session"
	}
	return out
}

// ExportFilename builds a deterministic export filename from the client
// reference, the session id and the session's creation time. The timestamp
// alone is only second-granular, so the session id is folded in to keep two
// same-second sessions for one client from replacing each other's exports.
func ExportFilename(clientRef, sessionID string, createdAt time.Time) string {
	token := createdAt.UTC().Format("20060102T150405Z")
	if id := shortSessionID(sessionID); id != "" {
		token += "-" + id
	}
	return fmt.Sprintf("%s_%s.txt", sanitizeRef(clientRef), token)
}

// shortSessionID keeps the leading hex block of a UUID, which is enough to
// disambiguate concurrent sessions without bloating the filename.
func shortSessionID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
