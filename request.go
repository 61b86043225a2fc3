package authzero

import (
	"encoding/base64"
	"net/http"
	"strings"
)

// Request is the framework-neutral slice of an inbound request the resolver
// consumes: headers and cookies. Adapters for other frameworks only need to
// fill these two maps.
type Request struct {
	Header  http.Header
	Cookies map[string]string
}

// NewRequest builds a Request from raw parts. A nil header or cookie map is
// replaced with an empty one.
func NewRequest(header http.Header, cookies map[string]string) *Request {
	if header == nil {
		header = http.Header{}
	}
	if cookies == nil {
		cookies = map[string]string{}
	}
	return &Request{Header: header, Cookies: cookies}
}

// FromHTTP adapts a net/http request.
func FromHTTP(r *http.Request) *Request {
	cookies := make(map[string]string, len(r.Cookies()))
	for _, c := range r.Cookies() {
		cookies[c.Name] = c.Value
	}
	return &Request{Header: r.Header, Cookies: cookies}
}

// value reads a named surface, headers first, then cookies.
func (r *Request) value(name string) string {
	if v := r.Header.Get(name); v != "" {
		return v
	}
	if r.Cookies != nil {
		return r.Cookies[name]
	}
	return ""
}

// Credentials is the raw material extracted from a request before any
// validation.
type Credentials struct {
	Token  string
	APIKey string
}

func (c Credentials) HasToken() bool  { return c.Token != "" }
func (c Credentials) HasAPIKey() bool { return c.APIKey != "" }

// ExtractCredentials pulls the bearer token and API key out of a request.
// An Authorization payload of the form "apikey:<key>" (optionally base64
// encoded under the Basic scheme) counts as an API key, not a token.
func ExtractCredentials(req *Request, hdr HeaderConfig) Credentials {
	var creds Credentials

	if raw := req.value(hdr.Authorization); raw != "" {
		scheme, param, ok := strings.Cut(raw, " ")
		if ok {
			param = strings.TrimSpace(param)
			switch strings.ToLower(scheme) {
			case strings.ToLower(hdr.AuthorizationScheme):
				if key, isKey := apiKeyPayload(param); isKey {
					creds.APIKey = key
				} else {
					creds.Token = param
				}
			case "basic":
				if decoded, err := base64.StdEncoding.DecodeString(param); err == nil {
					if key, isKey := apiKeyPayload(string(decoded)); isKey {
						creds.APIKey = key
					}
				}
			}
		}
	}

	if v := req.value(hdr.APIKey); v != "" {
		creds.APIKey = v
	}
	return creds
}

func apiKeyPayload(s string) (string, bool) {
	if rest, ok := strings.CutPrefix(s, "apikey:"); ok && rest != "" {
		return rest, true
	}
	return "", false
}
