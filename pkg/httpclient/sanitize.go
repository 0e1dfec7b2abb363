package httpclient

import (
	"net/url"
	"strings"
)

// sensitiveParams contains query parameter names that should be redacted
// from logs. Matched case-insensitively, by substring, so spellings like
// API_KEY, ApiKey, and enable_password are all caught. The list covers the
// generic web vocabulary plus the credential names network-device and
// inventory APIs tend to use.
var sensitiveParams = []string{
	"api_key",
	"apikey",
	"token",
	"password",
	"passphrase",
	"auth",
	"secret",
	"key",
	"credential",
	"community",
}

// sanitizeURL removes sensitive query parameters from URLs before logging.
// This prevents leaking device credentials, SNMP communities, and API
// tokens when request lines land in the daemon log.
func sanitizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}

	q := u.Query()
	for param := range q {
		if isSensitiveParam(param) {
			q.Set(param, "[REDACTED]")
		}
	}

	// Rebuild the URL with the sanitized query.
	safe := *u
	safe.RawQuery = q.Encode()
	return safe.String()
}

// isSensitiveParam checks if a parameter name matches the sensitive list.
func isSensitiveParam(param string) bool {
	lower := strings.ToLower(param)
	for _, sensitive := range sensitiveParams {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}
