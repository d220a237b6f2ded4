package core

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// SignedRequest is the protocol-level view of an inbound HTTP request: the
// method, the normalized URL, and every parameter that participates in the
// signature base string. Parameters are merged from the query string, a
// form-encoded body, and the OAuth Authorization header; the header wins on
// key collisions, matching how clients emit credentials.
type SignedRequest struct {
	Method string
	URL    string
	Params url.Values
}

func ParseSignedRequest(r *http.Request) (SignedRequest, error) {
	if r == nil {
		return SignedRequest{}, fmt.Errorf("core: http request is required")
	}
	if r.URL == nil {
		return SignedRequest{}, fmt.Errorf("core: request url is required")
	}

	params := url.Values{}
	for key, values := range r.URL.Query() {
		for _, value := range values {
			params.Add(key, value)
		}
	}

	if strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return SignedRequest{}, fmt.Errorf("core: form parse failed: %w", err)
		}
		for key, values := range r.PostForm {
			for _, value := range values {
				params.Add(key, value)
			}
		}
	}

	headerParams, err := parseAuthorizationHeader(r.Header.Get("Authorization"))
	if err != nil {
		return SignedRequest{}, err
	}
	for key, value := range headerParams {
		params.Set(key, value)
	}

	return SignedRequest{
		Method: strings.ToUpper(r.Method),
		URL:    normalizeRequestURL(r),
		Params: params,
	}, nil
}

// NewSignedRequest builds the protocol view directly, for callers that do not
// hold an *http.Request (launch header construction, tests).
func NewSignedRequest(method string, rawURL string, params url.Values) (SignedRequest, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return SignedRequest{}, fmt.Errorf("core: invalid request url: %w", err)
	}
	merged := url.Values{}
	for key, values := range parsed.Query() {
		for _, value := range values {
			merged.Add(key, value)
		}
	}
	for key, values := range params {
		for _, value := range values {
			merged.Add(key, value)
		}
	}
	return SignedRequest{
		Method: strings.ToUpper(method),
		URL:    normalizeURL(parsed),
		Params: merged,
	}, nil
}

func (r SignedRequest) Param(name string) string {
	if r.Params == nil {
		return ""
	}
	return r.Params.Get(name)
}

func (r SignedRequest) ConsumerKey() string { return r.Param("oauth_consumer_key") }

func (r SignedRequest) Token() string { return r.Param("oauth_token") }

func (r SignedRequest) Nonce() string { return r.Param("oauth_nonce") }

func (r SignedRequest) Signature() string { return r.Param("oauth_signature") }

func (r SignedRequest) SignatureMethod() string { return r.Param("oauth_signature_method") }

func (r SignedRequest) Verifier() string { return r.Param("oauth_verifier") }

func (r SignedRequest) Callback() string { return r.Param("oauth_callback") }

func (r SignedRequest) Timestamp() (int64, error) {
	raw := strings.TrimSpace(r.Param("oauth_timestamp"))
	if raw == "" {
		return 0, fmt.Errorf("core: oauth_timestamp is required")
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("core: invalid oauth_timestamp: %w", err)
	}
	return ts, nil
}

// parseAuthorizationHeader extracts key="value" pairs from an OAuth scheme
// Authorization header. The realm attribute is transport metadata and never
// enters the base string, so it is skipped.
func parseAuthorizationHeader(header string) (map[string]string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}
	scheme, rest, _ := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, "OAuth") {
		return nil, nil
	}

	params := map[string]string{}
	for _, part := range strings.Split(rest, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, rawValue, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("core: malformed authorization header parameter %q", part)
		}
		key = strings.TrimSpace(key)
		if strings.EqualFold(key, "realm") {
			continue
		}
		rawValue = strings.Trim(strings.TrimSpace(rawValue), `"`)
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return nil, fmt.Errorf("core: malformed authorization header value for %q: %w", key, err)
		}
		params[key] = value
	}
	return params, nil
}

func normalizeRequestURL(r *http.Request) string {
	u := *r.URL
	if u.Scheme == "" {
		if r.TLS != nil {
			u.Scheme = "https"
		} else {
			u.Scheme = "http"
		}
	}
	if u.Host == "" {
		u.Host = r.Host
	}
	return normalizeURL(&u)
}

// normalizeURL renders scheme://host/path with default ports stripped and the
// query and fragment discarded, the form the signature base string requires.
func normalizeURL(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path
}
