// Package expo wraps the Expo push service: push-address validation and the
// HTTP client that submits notification batches and interprets per-message
// tickets.
package expo

import "regexp"

// Push address grammar: a fixed prefix, one or more characters from the
// URL-safe base64 alphabet, and a closing bracket. Nothing before or after.
const (
	tokenPrefix = "ExponentPushToken["
	tokenSuffix = "]"
)

var tokenRE = regexp.MustCompile(`^ExponentPushToken\[[A-Za-z0-9_-]+\]$`)

// IsPushToken reports whether s is a well-formed Expo push address.
//
// It is the single source of truth for address validity: both the
// registration path and the dispatch path must use this function so the two
// can never diverge. It is pure and safe for concurrent use.
func IsPushToken(s string) bool {
	if len(s) <= len(tokenPrefix)+len(tokenSuffix) {
		return false
	}
	return tokenRE.MatchString(s)
}
