package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix allows a future algorithm migration.
const (
	DomainActivity     = "ncflow/activity/v1"
	DomainNotification = "ncflow/notification/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ActivityID computes the content-addressed id of the audit entry for the
// history event (recordID, seq). The same event always yields the same id,
// which makes appends idempotent.
func ActivityID(recordID string, seq int64, action EventAction) (string, error) {
	canonical, err := MarshalCanonical(map[string]any{
		"record_id": recordID,
		"seq":       seq,
		"action":    string(action),
	})
	if err != nil {
		return "", fmt.Errorf("ActivityID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainActivity, canonical), nil
}

// NotificationID computes the content-addressed id of a notification.
// subject is a record id or a user id; discriminator pins the occurrence
// (an event seq, or a calendar day for scheduled notices).
func NotificationID(typ NotificationType, subject, discriminator string) (string, error) {
	canonical, err := MarshalCanonical(map[string]any{
		"type":          string(typ),
		"subject":       subject,
		"discriminator": discriminator,
	})
	if err != nil {
		return "", fmt.Errorf("NotificationID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainNotification, canonical), nil
}

// MustNotificationID is like NotificationID but panics on error.
// Inputs are plain strings, so an error means a programming mistake.
func MustNotificationID(typ NotificationType, subject, discriminator string) string {
	id, err := NotificationID(typ, subject, discriminator)
	if err != nil {
		panic(err)
	}
	return id
}
