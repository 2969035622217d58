package inbound

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goliatone/go-webhooks/core"
)

type Verifier interface {
	Verify(ctx context.Context, req core.InboundRequest) error
}

type VerifierFunc func(ctx context.Context, req core.InboundRequest) error

func (f VerifierFunc) Verify(ctx context.Context, req core.InboundRequest) error {
	if f == nil {
		return core.SignatureError("inbound: verifier is not configured", nil)
	}
	return f(ctx, req)
}

// HeaderHMACVerifier checks a hex HMAC-SHA256 of the raw body carried in a
// request header, optionally behind a prefix such as "sha256=".
type HeaderHMACVerifier struct {
	Signer *core.Signer
	Header string
	Prefix string
}

func NewHeaderHMACVerifier(signer *core.Signer, header string, prefix string) *HeaderHMACVerifier {
	return &HeaderHMACVerifier{
		Signer: signer,
		Header: header,
		Prefix: prefix,
	}
}

func (v *HeaderHMACVerifier) Verify(_ context.Context, req core.InboundRequest) error {
	if v == nil || !v.Signer.HasIncomingSecret() {
		return core.SignatureError("inbound: incoming secret is not configured", map[string]any{
			"verifier": core.VerifierHeaderHMAC,
		})
	}
	header := strings.TrimSpace(v.Header)
	if header == "" {
		header = core.DefaultSignatureHeader
	}
	signature := headerValue(req.Headers, header)
	if prefix := strings.TrimSpace(v.Prefix); prefix != "" {
		trimmed, ok := cutPrefixFold(signature, prefix)
		if !ok {
			return core.SignatureError("inbound: signature prefix mismatch", map[string]any{
				"verifier": core.VerifierHeaderHMAC,
				"header":   header,
			})
		}
		signature = trimmed
	}
	if signature == "" {
		return core.SignatureError("inbound: signature header is missing", map[string]any{
			"verifier": core.VerifierHeaderHMAC,
			"header":   header,
		})
	}
	if !v.Signer.VerifyIncoming(req.Body, signature) {
		return core.SignatureError("inbound: signature mismatch", map[string]any{
			"verifier": core.VerifierHeaderHMAC,
			"header":   header,
		})
	}
	return nil
}

// BodySecretVerifier compares a shared secret carried as a top-level JSON
// string field of the body.
type BodySecretVerifier struct {
	Secret string
	Field  string
}

func NewBodySecretVerifier(secret string, field string) *BodySecretVerifier {
	return &BodySecretVerifier{
		Secret: secret,
		Field:  field,
	}
}

func (v *BodySecretVerifier) Verify(_ context.Context, req core.InboundRequest) error {
	if v == nil || strings.TrimSpace(v.Secret) == "" {
		return core.SignatureError("inbound: body secret is not configured", map[string]any{
			"verifier": core.VerifierBodySecret,
		})
	}
	field := strings.TrimSpace(v.Field)
	if field == "" {
		field = core.DefaultBodySecretField
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(req.Body, &fields); err != nil {
		return core.SignatureError("inbound: body secret is missing", map[string]any{
			"verifier": core.VerifierBodySecret,
			"field":    field,
		})
	}
	var provided string
	raw, ok := fields[field]
	if !ok || json.Unmarshal(raw, &provided) != nil || provided == "" {
		return core.SignatureError("inbound: body secret is missing", map[string]any{
			"verifier": core.VerifierBodySecret,
			"field":    field,
		})
	}
	expected := strings.TrimSpace(v.Secret)
	if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
		return core.SignatureError("inbound: body secret mismatch", map[string]any{
			"verifier": core.VerifierBodySecret,
			"field":    field,
		})
	}
	return nil
}

// VerifiersFromConfig builds the verifier for the main inbound endpoint and
// the one for prompt callbacks. The callback secret falls back to the
// incoming secret.
func VerifiersFromConfig(cfg core.Config, signer *core.Signer) (Verifier, Verifier, error) {
	var primary Verifier
	switch mode := cfg.Inbound.VerifierMode(); mode {
	case core.VerifierHeaderHMAC:
		if signer == nil {
			signer = core.NewSigner(cfg.OutgoingSecret, cfg.IncomingSecret)
		}
		primary = NewHeaderHMACVerifier(signer, cfg.Inbound.Header(), cfg.Inbound.SignaturePrefix)
	case core.VerifierBodySecret:
		primary = NewBodySecretVerifier(cfg.IncomingSecret, cfg.Inbound.SecretField())
	default:
		return nil, nil, core.ConfigurationError(
			fmt.Sprintf("inbound: unsupported verifier %q", mode),
			map[string]any{"field": "inbound.verifier"},
		)
	}

	callbackSecret := strings.TrimSpace(cfg.Inbound.PromptCallbackSecret)
	if callbackSecret == "" {
		callbackSecret = strings.TrimSpace(cfg.IncomingSecret)
	}
	return primary, NewBodySecretVerifier(callbackSecret, cfg.Inbound.SecretField()), nil
}

func cutPrefixFold(value string, prefix string) (string, bool) {
	if len(value) < len(prefix) || !strings.EqualFold(value[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(value[len(prefix):]), true
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
