package connection

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// splitHost strips a ws:// or wss:// scheme. wss forces secure mode.
func splitHost(host string, secure bool) (string, bool) {
	switch {
	case strings.HasPrefix(host, "wss://"):
		return strings.TrimPrefix(host, "wss://"), true
	case strings.HasPrefix(host, "ws://"):
		return strings.TrimPrefix(host, "ws://"), secure
	}
	return host, secure
}

// buildURL assembles the connect URL. Only credentials that are present are
// added to the query.
func buildURL(host string, secure bool, secret, token, clientID string) string {
	var b strings.Builder
	if secure {
		b.WriteString("wss://")
	} else {
		b.WriteString("ws://")
	}
	b.WriteString(host)
	b.WriteString("?connect=1")
	if secret != "" {
		b.WriteString("&secret=" + url.QueryEscape(secret))
	}
	if token != "" {
		b.WriteString("&access_token=" + url.QueryEscape(token))
	}
	if clientID != "" {
		b.WriteString("&clientId=" + url.QueryEscape(clientID))
	}
	return b.String()
}

func buildRestURL(host string, secure bool, postfix string) string {
	if host == "" {
		host = DefaultHost
	}
	scheme := "http://"
	if secure {
		scheme = "https://"
	}
	if postfix != "" && !strings.HasPrefix(postfix, "/") {
		postfix = "/" + postfix
	}
	return scheme + host + postfix
}

// tokenFrom extracts a token from a credential callback result.
func tokenFrom(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case TokenDetails:
		return t.Token
	case *TokenDetails:
		if t == nil {
			return ""
		}
		return t.Token
	case map[string]string:
		return t["token"]
	case map[string]any:
		s, _ := t["token"].(string)
		return s
	case json.RawMessage:
		return tokenFromJSON(t)
	case []byte:
		return tokenFromJSON(t)
	}
	return ""
}

func tokenFromJSON(data []byte) string {
	if !gjson.ValidBytes(data) {
		return ""
	}
	res := gjson.ParseBytes(data)
	if res.Type == gjson.String {
		return res.String()
	}
	return res.Get("token").String()
}
