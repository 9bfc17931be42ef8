package policy

import (
	"fmt"

	"github.com/roach88/ncflow/internal/domain"
)

// Default policy values.
const (
	DefaultDeclineThreshold = 3
	DefaultOverdueThreshold = 5
	DefaultReminderLeadDays = 1
)

// DefaultDueDateOffsets maps severity to days between reference date and due date.
var DefaultDueDateOffsets = map[domain.Severity]int{
	domain.SeverityCritical: 0,
	domain.SeverityMajor:    7,
	domain.SeverityMinor:    30,
}

// Settings holds the tunable parameters of every policy.
type Settings struct {
	// DeclineThreshold is the number of manager declines that escalates a record.
	DeclineThreshold int `json:"decline_threshold"`

	// OverdueThreshold is the number of overdue records that locks a user out.
	OverdueThreshold int `json:"overdue_threshold"`

	// DueDateOffsets maps severity to a day offset from the reference date.
	DueDateOffsets map[domain.Severity]int `json:"due_date_offsets"`

	// ReminderLeadDays is how many days before the due date reminders start.
	ReminderLeadDays int `json:"reminder_lead_days"`
}

// DefaultSettings returns the shipped policy values.
func DefaultSettings() Settings {
	offsets := make(map[domain.Severity]int, len(DefaultDueDateOffsets))
	for k, v := range DefaultDueDateOffsets {
		offsets[k] = v
	}
	return Settings{
		DeclineThreshold: DefaultDeclineThreshold,
		OverdueThreshold: DefaultOverdueThreshold,
		DueDateOffsets:   offsets,
		ReminderLeadDays: DefaultReminderLeadDays,
	}
}

// Validate checks that every threshold and offset is usable.
func (s Settings) Validate() error {
	if s.DeclineThreshold < 1 {
		return fmt.Errorf("decline threshold must be at least 1, got %d", s.DeclineThreshold)
	}
	if s.OverdueThreshold < 1 {
		return fmt.Errorf("overdue threshold must be at least 1, got %d", s.OverdueThreshold)
	}
	if s.ReminderLeadDays < 0 {
		return fmt.Errorf("reminder lead days must not be negative, got %d", s.ReminderLeadDays)
	}
	for _, sev := range domain.Severities {
		days, ok := s.DueDateOffsets[sev]
		if !ok {
			return fmt.Errorf("missing due date offset for severity %q", sev)
		}
		if days < 0 {
			return fmt.Errorf("due date offset for %q must not be negative, got %d", sev, days)
		}
	}
	return nil
}

// Escalation returns the escalation policy for these settings.
func (s Settings) Escalation() Escalation {
	return Escalation{Threshold: s.DeclineThreshold}
}

// Lockout returns the lockout policy for these settings.
func (s Settings) Lockout() Lockout {
	return Lockout{Threshold: s.OverdueThreshold}
}
