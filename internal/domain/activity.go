package domain

import "time"

// ActivityEntry is an immutable audit-trail entry. One entry exists per
// history event; its ID is content-addressed (see ActivityID).
type ActivityEntry struct {
	ID        string            `json:"id"`
	RecordID  string            `json:"record_id"`
	TenantID  string            `json:"tenant_id,omitempty"`
	Seq       int64             `json:"seq"`
	Action    EventAction       `json:"action"`
	ActorID   string            `json:"actor_id"`
	From      State             `json:"from"`
	To        State             `json:"to"`
	Comment   string            `json:"comment,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewActivityEntry builds the audit entry for one history event.
func NewActivityEntry(rec *Record, ev Event, detail map[string]string) (ActivityEntry, error) {
	id, err := ActivityID(rec.ID, ev.Seq, ev.Action)
	if err != nil {
		return ActivityEntry{}, err
	}
	return ActivityEntry{
		ID:        id,
		RecordID:  rec.ID,
		TenantID:  rec.TenantID,
		Seq:       ev.Seq,
		Action:    ev.Action,
		ActorID:   ev.ActorID,
		From:      ev.From,
		To:        ev.To,
		Comment:   ev.Comment,
		Detail:    detail,
		Timestamp: ev.Timestamp,
	}, nil
}
