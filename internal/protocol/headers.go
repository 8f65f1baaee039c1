package protocol

import "net/http"

// Header names carrying credentials on the upgrade and REST requests.
const (
	HeaderSecret      = "X-Secret"
	HeaderAccessToken = "X-Access-Token"
)

// CredentialHeaders builds the headers for a secret and/or token. Empty
// values are left out.
func CredentialHeaders(secret, token string) http.Header {
	h := make(http.Header)
	if secret != "" {
		h.Set(HeaderSecret, secret)
	}
	if token != "" {
		h.Set(HeaderAccessToken, token)
	}
	return h
}
