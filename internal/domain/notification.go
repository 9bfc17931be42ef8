package domain

import "time"

// NotificationType identifies why a notification is sent.
type NotificationType string

const (
	NotifyRecordCreated        NotificationType = "record_created"
	NotifyRecordAssigned       NotificationType = "record_assigned"
	NotifyRemediationSubmitted NotificationType = "remediation_submitted"
	NotifyReviewApproved       NotificationType = "review_approved"
	NotifyRemediationDeclined  NotificationType = "remediation_declined"
	NotifyRecordClosed         NotificationType = "record_closed"
	NotifyRecordRejected       NotificationType = "record_rejected"
	NotifyRecordEscalated      NotificationType = "record_escalated"
	NotifyAdminOverride        NotificationType = "admin_override"
	NotifyDueReminder          NotificationType = "due_reminder"
	NotifyOverdue              NotificationType = "overdue_notice"
	NotifyAccessLocked         NotificationType = "access_locked"
	NotifyAccessRestored       NotificationType = "access_restored"
)

// NotificationStatus tracks delivery in the outbox.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// Notification is an abstract request to tell a set of users about an event.
// Delivery transport is the notifier's concern.
type Notification struct {
	ID         string            `json:"id"`
	Type       NotificationType  `json:"type"`
	RecordID   string            `json:"record_id,omitempty"`
	Record     *RecordSummary    `json:"record,omitempty"`
	Recipients []string          `json:"recipients"`
	Context    map[string]string `json:"context,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
