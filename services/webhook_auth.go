package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/omnipay-gateway/apperrors"
)

type SignatureEncoding string

const (
	EncodingHex    SignatureEncoding = "hex"
	EncodingBase64 SignatureEncoding = "base64"
)

// WebhookScheme describes how one provider signs its callbacks.
type WebhookScheme struct {
	Provider        string
	Secret          string
	SignatureHeader string
	// TimestampHeader, when set, is prepended to the body before signing.
	TimestampHeader string
	Encoding        SignatureEncoding
	// MaxSkew rejects timestamps further than this from now. Zero disables the check.
	MaxSkew time.Duration
}

// DefaultWebhookSchemes returns the schemes for the providers the gateway talks to.
// A provider with an empty secret is left out and every callback for it is rejected.
// maxSkew bounds the age of timestamped callbacks.
func DefaultWebhookSchemes(cashfreeSecret, razorpaySecret, payoutSecret string, maxSkew time.Duration) []WebhookScheme {
	schemes := []WebhookScheme{
		{
			Provider:        "cashfree",
			Secret:          cashfreeSecret,
			SignatureHeader: "x-webhook-signature",
			TimestampHeader: "x-webhook-timestamp",
			Encoding:        EncodingBase64,
			MaxSkew:         maxSkew,
		},
		{
			Provider:        "razorpay",
			Secret:          razorpaySecret,
			SignatureHeader: "X-Razorpay-Signature",
			Encoding:        EncodingHex,
		},
		{
			Provider:        "payouts",
			Secret:          payoutSecret,
			SignatureHeader: "X-Payout-Signature",
			Encoding:        EncodingHex,
		},
	}
	out := schemes[:0]
	for _, s := range schemes {
		if s.Secret != "" {
			out = append(out, s)
		}
	}
	return out
}

// WebhookAuthenticator checks inbound callback signatures over the exact raw body.
type WebhookAuthenticator struct {
	schemes map[string]WebhookScheme
	logger  logrus.FieldLogger
	metrics *Metrics
	now     func() time.Time
}

func NewWebhookAuthenticator(logger logrus.FieldLogger, metrics *Metrics, schemes ...WebhookScheme) *WebhookAuthenticator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	a := &WebhookAuthenticator{
		schemes: make(map[string]WebhookScheme, len(schemes)),
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
	for _, s := range schemes {
		a.schemes[strings.ToLower(s.Provider)] = s
	}
	return a
}

// Knows reports whether provider has a configured scheme.
func (a *WebhookAuthenticator) Knows(provider string) bool {
	_, ok := a.schemes[strings.ToLower(provider)]
	return ok
}

// Authenticate returns a SignatureInvalid error unless the headers carry a valid signature for body.
func (a *WebhookAuthenticator) Authenticate(provider string, header http.Header, body []byte) error {
	scheme, ok := a.schemes[strings.ToLower(provider)]
	if !ok {
		return a.reject(provider, "", "", "unknown provider")
	}

	signature := strings.TrimSpace(header.Get(scheme.SignatureHeader))
	if signature == "" {
		return a.reject(provider, "", "", "missing signature header")
	}

	var timestamp string
	if scheme.TimestampHeader != "" {
		timestamp = strings.TrimSpace(header.Get(scheme.TimestampHeader))
		if timestamp == "" {
			return a.reject(provider, "", signature, "missing timestamp header")
		}
		if scheme.MaxSkew > 0 {
			at, err := parseWebhookTimestamp(timestamp)
			if err != nil {
				return a.reject(provider, timestamp, signature, "malformed timestamp")
			}
			skew := a.now().Sub(at)
			if skew < 0 {
				skew = -skew
			}
			if skew > scheme.MaxSkew {
				return a.reject(provider, timestamp, signature, "timestamp outside allowed skew")
			}
		}
	}

	got, err := decodeSignature(signature, scheme.Encoding)
	if err != nil {
		return a.reject(provider, timestamp, signature, "malformed signature")
	}

	mac := hmac.New(sha256.New, []byte(scheme.Secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return a.reject(provider, timestamp, signature, "signature mismatch")
	}
	return nil
}

func (a *WebhookAuthenticator) reject(provider, timestamp, signature, reason string) error {
	a.metrics.SignatureRejected()
	a.logger.WithFields(logrus.Fields{
		"provider":  provider,
		"timestamp": timestamp,
		"signature": truncate(signature, 8),
	}).Warn("webhook rejected: " + reason)
	return apperrors.New(apperrors.KindSignatureInvalid, "webhook signature rejected: %s", reason)
}

// SignPayload computes the signature a provider using this encoding would send.
func SignPayload(secret string, timestamp string, body []byte, encoding SignatureEncoding) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	sum := mac.Sum(nil)
	if encoding == EncodingBase64 {
		return base64.StdEncoding.EncodeToString(sum)
	}
	return hex.EncodeToString(sum)
}

func decodeSignature(signature string, encoding SignatureEncoding) ([]byte, error) {
	if encoding == EncodingBase64 {
		return base64.StdEncoding.DecodeString(signature)
	}
	return hex.DecodeString(strings.ToLower(signature))
}

// parseWebhookTimestamp accepts unix seconds, unix milliseconds or RFC 3339.
func parseWebhookTimestamp(v string) (time.Time, error) {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n), nil
		}
		return time.Unix(n, 0), nil
	}
	return time.Parse(time.RFC3339, v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
