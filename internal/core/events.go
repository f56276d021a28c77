package core

import (
	"strings"
	"time"
)

const (
	EntityTransaction = "transaction"
	EntityGoal        = "goal"
	EntityAllocation  = "allocation"
)

const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// LegacyPauseMarker is how older records flagged a paused template inside the
// free-text description. It is read for compatibility and never written.
const LegacyPauseMarker = "[PAUSED]"

// ChangeEvent describes a single mutation of a persisted entity.
type ChangeEvent struct {
	Entity  string    `json:"entity"`
	Op      string    `json:"op"`
	OwnerID string    `json:"owner_id"`
	ID      string    `json:"id"`
	At      time.Time `json:"at"`
}

// NewChangeEvent stamps an event with the current time.
func NewChangeEvent(entity, op, ownerID, id string) ChangeEvent {
	return ChangeEvent{Entity: entity, Op: op, OwnerID: ownerID, ID: id, At: time.Now().UTC()}
}

// AffectsSummary reports whether the event can change financial totals.
func (e ChangeEvent) AffectsSummary() bool {
	return e.Entity == EntityTransaction
}

// HasLegacyPauseMarker reports whether a description carries the old marker.
func HasLegacyPauseMarker(description string) bool {
	return strings.Contains(description, LegacyPauseMarker)
}

// StripPauseMarker removes every occurrence of the legacy marker.
func StripPauseMarker(description string) string {
	if !HasLegacyPauseMarker(description) {
		return description
	}
	return strings.Join(strings.Fields(strings.ReplaceAll(description, LegacyPauseMarker, " ")), " ")
}
