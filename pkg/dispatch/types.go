package dispatch

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// Request is the inbound notification request, shared by the HTTP and Pub/Sub transports.
type Request struct {
	AppName   string `json:"appName"`
	Title     string `json:"title" validate:"required"`
	Body      string `json:"body" validate:"required"`
	Recipient string `json:"recipient" validate:"required"`
}

// UserRecord is one document of the device registry.
type UserRecord struct {
	ID          string `json:"id"`
	Identifier  string `json:"identifier"`
	DeviceToken string `json:"deviceToken,omitempty"`
}

// HasToken reports whether the record carries a device token.
func (u UserRecord) HasToken() bool {
	return u.DeviceToken != ""
}

// Message is a single fan-out request handed to a Provider.
type Message struct {
	Content notification.NotificationContent
	Tokens  []string
}

// ErrorKind classifies a per-token send failure.
type ErrorKind int

const (
	ErrorKindNone ErrorKind = iota
	ErrorKindInvalidToken
	ErrorKindNotRegistered
	ErrorKindOther
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindNone:
		return "none"
	case ErrorKindInvalidToken:
		return "invalid_token"
	case ErrorKindNotRegistered:
		return "not_registered"
	default:
		return "other"
	}
}

// Permanent reports whether a token that failed with this kind will never be deliverable.
func (k ErrorKind) Permanent() bool {
	return k == ErrorKindInvalidToken || k == ErrorKindNotRegistered
}

// Outcome is the provider's verdict for one token.
type Outcome struct {
	Token     string
	Success   bool
	ErrorKind ErrorKind
	Err       error
}

// Succeeded builds a successful outcome.
func Succeeded(token string) Outcome {
	return Outcome{Token: token, Success: true}
}

// Failed builds a failed outcome.
func Failed(token string, kind ErrorKind, err error) Outcome {
	return Outcome{Token: token, ErrorKind: kind, Err: err}
}

// Fingerprint returns a short, stable digest of a token that is safe to log.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:12]
}
