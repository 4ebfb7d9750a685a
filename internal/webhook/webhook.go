// Package webhook authenticates and decodes provider status notifications.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// SignatureHeader carries "time=<unix>,sig1=<hex hmac-sha256>".
	SignatureHeader = "Webhook-Signature"
	// SecretHeader carries the shared secret when signatures are not used.
	SecretHeader = "X-Webhook-Secret"

	DefaultTolerance = 5 * time.Minute
)

var (
	// ErrNotConfigured means no secret is set and pushes cannot be trusted.
	ErrNotConfigured = errors.New("webhook secret not configured")
	// ErrInvalidSignature covers missing, malformed, stale and wrong signatures.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedPayload is returned when the body is not a notification.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// Verifier checks that a notification was sent by the provider.
type Verifier struct {
	Secret    string
	Tolerance time.Duration
	// AllowSharedSecret accepts SecretHeader in place of a signature.
	AllowSharedSecret bool
	Now               func() time.Time
}

// Configured reports whether a secret is available.
func (v Verifier) Configured() bool {
	return strings.TrimSpace(v.Secret) != ""
}

// Verify authenticates body against the request headers.
func (v Verifier) Verify(header http.Header, body []byte) error {
	if !v.Configured() {
		return ErrNotConfigured
	}
	if signature := strings.TrimSpace(header.Get(SignatureHeader)); signature != "" {
		return v.verifySignature(signature, body)
	}
	if v.AllowSharedSecret {
		if provided := header.Get(SecretHeader); provided != "" {
			if subtle.ConstantTimeCompare([]byte(provided), []byte(v.Secret)) == 1 {
				return nil
			}
			return fmt.Errorf("%w: shared secret mismatch", ErrInvalidSignature)
		}
	}
	return fmt.Errorf("%w: missing signature", ErrInvalidSignature)
}

func (v Verifier) verifySignature(value string, body []byte) error {
	var timestamp, signature string
	for _, part := range strings.Split(value, ",") {
		key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "time":
			timestamp = val
		case "sig1":
			signature = val
		}
	}
	if timestamp == "" || signature == "" {
		return fmt.Errorf("%w: malformed header", ErrInvalidSignature)
	}
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed timestamp", ErrInvalidSignature)
	}
	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	skew := now().Sub(time.Unix(unix, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: malformed digest", ErrInvalidSignature)
	}
	if !hmac.Equal(provided, Sign(v.Secret, timestamp, body)) {
		return fmt.Errorf("%w: digest mismatch", ErrInvalidSignature)
	}
	return nil
}

// Sign computes the raw HMAC for timestamp and body.
func Sign(secret, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

// SignatureHeaderValue formats a header value for body signed at ts.
func SignatureHeaderValue(secret string, ts time.Time, body []byte) string {
	timestamp := strconv.FormatInt(ts.Unix(), 10)
	return "time=" + timestamp + ",sig1=" + hex.EncodeToString(Sign(secret, timestamp, body))
}

// Notification is a decoded status push. Status is the raw provider value;
// the reconciler validates it.
type Notification struct {
	CorrelationID string
	Status        string
}

type rawNotification struct {
	VideoID string          `json:"videoId"`
	UID     string          `json:"uid"`
	Status  json.RawMessage `json:"status"`
}

type nativeStatus struct {
	State string `json:"state"`
}

// DecodeNotification accepts {"videoId","status":"ready"} and the provider's
// native {"uid","status":{"state":"ready"}} shape.
func DecodeNotification(body []byte) (Notification, error) {
	var raw rawNotification
	if err := json.Unmarshal(body, &raw); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	id := strings.TrimSpace(raw.VideoID)
	if id == "" {
		id = strings.TrimSpace(raw.UID)
	}
	if id == "" {
		return Notification{}, fmt.Errorf("%w: missing video id", ErrMalformedPayload)
	}
	if len(raw.Status) == 0 || string(raw.Status) == "null" {
		return Notification{}, fmt.Errorf("%w: missing status", ErrMalformedPayload)
	}
	var status string
	if err := json.Unmarshal(raw.Status, &status); err != nil {
		var native nativeStatus
		if err := json.Unmarshal(raw.Status, &native); err != nil {
			return Notification{}, fmt.Errorf("%w: unreadable status", ErrMalformedPayload)
		}
		status = native.State
	}
	status = strings.TrimSpace(status)
	if status == "" {
		return Notification{}, fmt.Errorf("%w: missing status", ErrMalformedPayload)
	}
	return Notification{CorrelationID: id, Status: status}, nil
}
