package auth

import "strings"

// BearerToken returns the credential in an "Authorization: Bearer <token>"
// style header value, or "" when the scheme is not bearer.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
