package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/ncflow/internal/domain"
)

// toMillis converts t to unix milliseconds. The zero time maps to 0.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

// fromMillis converts unix milliseconds to a UTC time. 0 maps to the zero time.
func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

// marshalRoles stores roles as a sorted comma-separated list.
func marshalRoles(roles []domain.Role) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ",")
}

func unmarshalRoles(s string) ([]domain.Role, error) {
	roles, err := domain.ParseRoles(s)
	if err != nil {
		return nil, fmt.Errorf("unmarshal roles: %w", err)
	}
	return roles, nil
}

// marshalDetail converts activity detail to canonical JSON TEXT.
func marshalDetail(detail map[string]string) (string, error) {
	if len(detail) == 0 {
		return "{}", nil
	}
	data, err := domain.MarshalCanonical(detail)
	if err != nil {
		return "", fmt.Errorf("marshal detail: %w", err)
	}
	return string(data), nil
}

func unmarshalDetail(data string) (map[string]string, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var detail map[string]string
	if err := json.Unmarshal([]byte(data), &detail); err != nil {
		return nil, fmt.Errorf("unmarshal detail: %w", err)
	}
	return detail, nil
}

// marshalNotification converts a notification to JSON TEXT for the outbox.
func marshalNotification(n domain.Notification) (string, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("marshal notification: %w", err)
	}
	return string(data), nil
}

func unmarshalNotification(data string) (domain.Notification, error) {
	var n domain.Notification
	if err := json.Unmarshal([]byte(data), &n); err != nil {
		return domain.Notification{}, fmt.Errorf("unmarshal notification: %w", err)
	}
	return n, nil
}
