package models

import "time"

// NotificationKind enumerates the fire-and-forget messages the core emits.
type NotificationKind string

const (
	NotificationPromoted         NotificationKind = "promoted"
	NotificationPromotionSkipped NotificationKind = "promotion_skipped"
	NotificationHoldBlocking     NotificationKind = "hold_blocking"
	NotificationSwapFailed       NotificationKind = "swap_failed"
)

// Notification is delivered to students after locks are released.
type Notification struct {
	ID        string           `json:"id"`
	Kind      NotificationKind `json:"kind"`
	StudentID string           `json:"student_id"`
	SectionID string           `json:"section_id,omitempty"`
	Message   string           `json:"message"`
	CreatedAt time.Time        `json:"created_at"`
}
