package session

import "strings"

// NormalizeIdentity canonicalizes a channel sender address into the E.164-ish
// form used as session and cache key: the "whatsapp:" transport prefix is
// stripped and a single leading "+" is enforced.
func NormalizeIdentity(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "whatsapp:")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = strings.TrimLeft(s, "+")
	if s == "" {
		return ""
	}
	return "+" + s
}
