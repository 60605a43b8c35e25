package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
)

// Credentials holds a Binance API key pair. The secret is unexported and
// only the Signer reads it; String and GoString are overridden so the secret
// cannot leak through formatting, logging or error paths.
//
// Credentials are immutable for the lifetime of a client. To rotate keys,
// construct a new client.
type Credentials struct {
	APIKey    string
	apiSecret string
}

// NewCredentials creates an immutable credential pair.
func NewCredentials(apiKey, apiSecret string) Credentials {
	return Credentials{APIKey: apiKey, apiSecret: apiSecret}
}

// Empty reports whether no credentials were provided.
func (c Credentials) Empty() bool {
	return c.APIKey == "" && c.apiSecret == ""
}

// String implements fmt.Stringer with the secret redacted.
func (c Credentials) String() string {
	return "Credentials{APIKey:" + c.APIKey + ", APISecret:[REDACTED]}"
}

// GoString implements fmt.GoStringer with the secret redacted, so %#v is
// safe too.
func (c Credentials) GoString() string {
	return c.String()
}

// Signer computes Binance request signatures: the lowercase hex encoding of
// HMAC-SHA256 over the canonical payload, keyed with the API secret.
//
// Signing is deterministic (identical payloads always produce identical
// signatures) and performs no I/O.
type Signer struct {
	creds Credentials
}

// NewSigner creates a signer bound to the given credentials.
func NewSigner(creds Credentials) *Signer {
	return &Signer{creds: creds}
}

// Sign returns the signature for an already-canonical payload string.
func (s *Signer) Sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(s.creds.apiSecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignRequest canonicalizes query and body parameters and signs the result.
// The caller must already have attached the timestamp and recvWindow
// parameters so that the signed bytes match the bytes sent on the wire.
func (s *Signer) SignRequest(query, body url.Values) string {
	return s.Sign(canonicalPayload(query, body))
}

// canonicalPayload produces the order-stable signing input: the URL-encoded
// query (keys sorted, as url.Values.Encode guarantees) concatenated with the
// URL-encoded body. Binance verifies the signature against exactly the bytes
// it receives, so the request builder must use this same encoding.
func canonicalPayload(query, body url.Values) string {
	return query.Encode() + body.Encode()
}
