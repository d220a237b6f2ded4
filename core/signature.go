package core

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// RequestSigner computes the oauth_signature for a request given the consumer
// secret and token secret. Implementations must be deterministic; verification
// recomputes the signature and compares in constant time.
type RequestSigner interface {
	Name() string
	Sign(req SignedRequest, consumerSecret string, tokenSecret string) (string, error)
}

type HMACSHA1Signer struct{}

func (HMACSHA1Signer) Name() string { return "HMAC-SHA1" }

func (HMACSHA1Signer) Sign(req SignedRequest, consumerSecret string, tokenSecret string) (string, error) {
	base, err := SignatureBaseString(req)
	if err != nil {
		return "", err
	}
	key := percentEncode(consumerSecret) + "&" + percentEncode(tokenSecret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

type PlaintextSigner struct{}

func (PlaintextSigner) Name() string { return "PLAINTEXT" }

func (PlaintextSigner) Sign(_ SignedRequest, consumerSecret string, tokenSecret string) (string, error) {
	return percentEncode(consumerSecret) + "&" + percentEncode(tokenSecret), nil
}

func signerForMethod(method string) (RequestSigner, error) {
	switch strings.ToUpper(strings.TrimSpace(method)) {
	case "HMAC-SHA1":
		return HMACSHA1Signer{}, nil
	case "PLAINTEXT":
		return PlaintextSigner{}, nil
	default:
		return nil, fmt.Errorf("core: unsupported signature method %q", method)
	}
}

// VerifySignature recomputes the request's signature with the given secrets
// and compares it against the presented oauth_signature in constant time.
func VerifySignature(req SignedRequest, consumerSecret string, tokenSecret string) error {
	presented := req.Signature()
	if strings.TrimSpace(presented) == "" {
		return ErrSignatureMismatch
	}
	signer, err := signerForMethod(req.SignatureMethod())
	if err != nil {
		return ErrSignatureMismatch
	}
	expected, err := signer.Sign(req, consumerSecret, tokenSecret)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}

// SignatureBaseString renders METHOD&URL&PARAMS per the three-part form:
// each part individually percent-encoded, parameters sorted by encoded key
// then encoded value, oauth_signature itself excluded.
func SignatureBaseString(req SignedRequest) (string, error) {
	if strings.TrimSpace(req.Method) == "" {
		return "", fmt.Errorf("core: request method is required")
	}
	if strings.TrimSpace(req.URL) == "" {
		return "", fmt.Errorf("core: request url is required")
	}

	type pair struct {
		key   string
		value string
	}
	pairs := make([]pair, 0, len(req.Params))
	for key, values := range req.Params {
		if key == "oauth_signature" {
			continue
		}
		for _, value := range values {
			pairs = append(pairs, pair{key: percentEncode(key), value: percentEncode(value)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})

	encoded := make([]string, 0, len(pairs))
	for _, p := range pairs {
		encoded = append(encoded, p.key+"="+p.value)
	}
	normalized := strings.Join(encoded, "&")

	return strings.ToUpper(req.Method) + "&" + percentEncode(req.URL) + "&" + percentEncode(normalized), nil
}

// SignParams produces a complete oauth parameter set for an outbound signed
// request: the caller's params plus the protocol params and a computed
// HMAC-SHA1 signature. Used to mint launch headers and by tests that need a
// validly signed request.
func SignParams(
	method string,
	rawURL string,
	params url.Values,
	consumerKey string,
	consumerSecret string,
	token string,
	tokenSecret string,
	nonce string,
	timestamp int64,
) (url.Values, error) {
	out := url.Values{}
	for key, values := range params {
		for _, value := range values {
			out.Add(key, value)
		}
	}
	out.Set("oauth_consumer_key", consumerKey)
	out.Set("oauth_nonce", nonce)
	out.Set("oauth_timestamp", fmt.Sprintf("%d", timestamp))
	out.Set("oauth_signature_method", "HMAC-SHA1")
	out.Set("oauth_version", "1.0")
	if token != "" {
		out.Set("oauth_token", token)
	}

	req, err := NewSignedRequest(method, rawURL, out)
	if err != nil {
		return nil, err
	}
	signature, err := HMACSHA1Signer{}.Sign(req, consumerSecret, tokenSecret)
	if err != nil {
		return nil, err
	}
	out.Set("oauth_signature", signature)
	return out, nil
}

// AuthorizationHeader renders a signed parameter set as an OAuth scheme
// Authorization header value. Every parameter rides along, not only the
// oauth_* protocol set: connect launches transmit their claim bundle inside
// the header, so the receiver can rebuild the exact signed request from the
// header alone.
func AuthorizationHeader(realm string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+1)
	if strings.TrimSpace(realm) != "" {
		parts = append(parts, `realm="`+percentEncode(realm)+`"`)
	}
	for _, key := range keys {
		parts = append(parts, key+`="`+percentEncode(params.Get(key))+`"`)
	}
	return "OAuth " + strings.Join(parts, ", ")
}

// percentEncode implements RFC 3986 encoding: unreserved characters pass
// through, everything else becomes %XX with uppercase hex.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteString(fmt.Sprintf("%%%02X", c))
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z':
		return true
	case c >= 'a' && c <= 'z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	}
	return false
}
