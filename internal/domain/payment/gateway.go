package payment

import (
	"context"
	"strings"
	"time"
)

type IntentStatus string

const (
	IntentSucceeded      IntentStatus = "SUCCEEDED"
	IntentProcessing     IntentStatus = "PROCESSING"
	IntentRequiresAction IntentStatus = "REQUIRES_ACTION"
	IntentCanceled       IntentStatus = "CANCELED"
	IntentFailed         IntentStatus = "FAILED"
)

// Open reports whether the intent may still move to a final status.
func (s IntentStatus) Open() bool {
	return s == IntentProcessing || s == IntentRequiresAction
}

// Intent is the gateway's handle for an amount to be captured.
type Intent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"client_secret,omitempty"`
	Status       IntentStatus      `json:"status"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Gateway is the external payment capability. Amounts are minor units.
type Gateway interface {
	CreateIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*Intent, error)
	GetIntent(ctx context.Context, id string) (*Intent, error)
	CancelIntent(ctx context.Context, id string) (*Intent, error)
}

// MetadataBookingID is the intent metadata key carrying the booking id.
const MetadataBookingID = "booking_id"

// IntentIDFromClientSecret returns the intent id a client secret was issued
// for. Anything without a secret suffix is returned unchanged.
func IntentIDFromClientSecret(secret string) string {
	if i := strings.Index(secret, "_secret"); i > 0 {
		return secret[:i]
	}
	return secret
}
