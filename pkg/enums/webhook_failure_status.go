package enums

import "fmt"

// WebhookFailureStatus tracks recovery of an unprocessable webhook event.
type WebhookFailureStatus string

const (
	WebhookFailureFailed   WebhookFailureStatus = "failed"
	WebhookFailureRetrying WebhookFailureStatus = "retrying"
	WebhookFailureResolved WebhookFailureStatus = "resolved"
)

// IsValid reports whether the value is a known WebhookFailureStatus.
func (s WebhookFailureStatus) IsValid() bool {
	switch s {
	case WebhookFailureFailed, WebhookFailureRetrying, WebhookFailureResolved:
		return true
	}
	return false
}

// ParseWebhookFailureStatus converts raw input into a WebhookFailureStatus.
func ParseWebhookFailureStatus(value string) (WebhookFailureStatus, error) {
	status := WebhookFailureStatus(value)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid webhook failure status %q", value)
	}
	return status, nil
}
