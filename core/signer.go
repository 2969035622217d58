package core

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Signer signs outbound payloads and verifies inbound bodies. The two
// directions use independent secrets.
type Signer struct {
	outgoingSecret []byte
	incomingSecret []byte
}

func NewSigner(outgoingSecret string, incomingSecret string) *Signer {
	return &Signer{
		outgoingSecret: []byte(strings.TrimSpace(outgoingSecret)),
		incomingSecret: []byte(strings.TrimSpace(incomingSecret)),
	}
}

func (s *Signer) HasOutgoingSecret() bool {
	return s != nil && len(s.outgoingSecret) > 0
}

func (s *Signer) HasIncomingSecret() bool {
	return s != nil && len(s.incomingSecret) > 0
}

// SignOutgoing returns the hex HMAC-SHA256 of payload. Callers must send the
// same bytes they sign.
func (s *Signer) SignOutgoing(payload []byte) (string, error) {
	if !s.HasOutgoingSecret() {
		return "", ConfigurationError("core: outgoing secret is required", map[string]any{"field": "outgoing_secret"})
	}
	return Sign(s.outgoingSecret, payload), nil
}

// VerifyIncoming fails closed when either the signature or the inbound secret
// is missing.
func (s *Signer) VerifyIncoming(rawBody []byte, signature string) bool {
	if !s.HasIncomingSecret() {
		return false
	}
	return Verify(s.incomingSecret, rawBody, signature)
}

func Sign(secret []byte, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func Verify(secret []byte, payload []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if len(secret) == 0 || signature == "" {
		return false
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hmac.Equal(provided, mac.Sum(nil))
}
