package models

import (
	"fmt"
	"strings"
	"time"
)

// DefaultVideoTitle is stored when a confirmation omits the title.
const DefaultVideoTitle = "Bagurumba Performance"

// VideoStatus is the lifecycle state of an uploaded video.
type VideoStatus string

const (
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusReady      VideoStatus = "ready"
	VideoStatusError      VideoStatus = "error"
)

// ParseVideoStatus validates raw against the closed status set. Matching is
// case-insensitive and ignores surrounding whitespace.
func ParseVideoStatus(raw string) (VideoStatus, error) {
	switch status := VideoStatus(strings.ToLower(strings.TrimSpace(raw))); status {
	case VideoStatusProcessing, VideoStatusReady, VideoStatusError:
		return status, nil
	default:
		return "", fmt.Errorf("unknown video status %q", raw)
	}
}

// Terminal reports whether the status can no longer change.
func (s VideoStatus) Terminal() bool {
	return s == VideoStatusReady || s == VideoStatusError
}

func (s VideoStatus) String() string {
	return string(s)
}

// VideoRecord links a provider-hosted upload to its owner and lifecycle state.
type VideoRecord struct {
	ID            string      `json:"id"`
	OwnerID       string      `json:"ownerId"`
	OwnerName     string      `json:"ownerName"`
	CorrelationID string      `json:"correlationId"`
	Title         string      `json:"title"`
	Category      string      `json:"category"`
	Status        VideoStatus `json:"status"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// PaymentStatus mirrors the payment state maintained by the billing system.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// ParsePaymentStatus normalises raw, falling back to pending for unknown values.
func ParsePaymentStatus(raw string) PaymentStatus {
	switch status := PaymentStatus(strings.ToLower(strings.TrimSpace(raw))); status {
	case PaymentStatusCompleted, PaymentStatusFailed:
		return status
	default:
		return PaymentStatusPending
	}
}

// User is the identity context attached to authenticated requests.
type User struct {
	ID            string        `json:"id"`
	DisplayName   string        `json:"displayName"`
	Category      string        `json:"category"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// HasPaid reports whether the user may request upload sessions.
func (u User) HasPaid() bool {
	return u.PaymentStatus == PaymentStatusCompleted
}
