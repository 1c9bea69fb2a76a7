package models

import (
	"time"

	"github.com/google/uuid"
)

// CardScheduleState is the scheduling truth for one (user, card) pair.
// NextReviewAt and LastReviewedAt are nil until the first review.
type CardScheduleState struct {
	UserID          string     `json:"user_id"`
	CardID          string     `json:"card_id"`
	EasinessFactor  float64    `json:"easiness"`
	IntervalDays    int        `json:"interval"`
	RepetitionCount int        `json:"repetitions"`
	NextReviewAt    *time.Time `json:"next_review"`
	LastReviewedAt  *time.Time `json:"last_reviewed"`
	Version         int64      `json:"version"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Reviewed reports whether the card has been reviewed at least once.
func (s CardScheduleState) Reviewed() bool {
	return s.LastReviewedAt != nil
}

// IsDue reports whether the card may be studied at now.
func (s CardScheduleState) IsDue(now time.Time) bool {
	return s.NextReviewAt == nil || !s.NextReviewAt.After(now)
}

// Clone returns a copy that shares no pointers with s.
func (s CardScheduleState) Clone() CardScheduleState {
	s.NextReviewAt = copyTime(s.NextReviewAt)
	s.LastReviewedAt = copyTime(s.LastReviewedAt)
	return s
}

// Snapshot copies the five scheduling fields.
func (s CardScheduleState) Snapshot() ScheduleSnapshot {
	return ScheduleSnapshot{
		EasinessFactor:  s.EasinessFactor,
		IntervalDays:    s.IntervalDays,
		RepetitionCount: s.RepetitionCount,
		NextReviewAt:    copyTime(s.NextReviewAt),
		LastReviewedAt:  copyTime(s.LastReviewedAt),
	}
}

// ScheduleSnapshot is the before/after picture stored with every review event.
type ScheduleSnapshot struct {
	EasinessFactor  float64    `json:"easiness"`
	IntervalDays    int        `json:"interval"`
	RepetitionCount int        `json:"repetitions"`
	NextReviewAt    *time.Time `json:"next_review"`
	LastReviewedAt  *time.Time `json:"last_reviewed"`
}

// ReviewEvent is an immutable record of one quality rating applied to one card.
// SessionID is uuid.Nil for reviews submitted outside a study session.
type ReviewEvent struct {
	ID          uuid.UUID        `json:"id"`
	UserID      string           `json:"user_id"`
	CardID      string           `json:"card_id"`
	SessionID   uuid.UUID        `json:"session_id"`
	Quality     int              `json:"quality"`
	TimeTakenMs *int64           `json:"time_taken_ms,omitempty"`
	Prior       ScheduleSnapshot `json:"prior"`
	Next        ScheduleSnapshot `json:"next"`
	OccurredAt  time.Time        `json:"occurred_at"`
}

// Clone returns a copy that shares no pointers with e.
func (e ReviewEvent) Clone() ReviewEvent {
	if e.TimeTakenMs != nil {
		ms := *e.TimeTakenMs
		e.TimeTakenMs = &ms
	}
	e.Prior.NextReviewAt = copyTime(e.Prior.NextReviewAt)
	e.Prior.LastReviewedAt = copyTime(e.Prior.LastReviewedAt)
	e.Next.NextReviewAt = copyTime(e.Next.NextReviewAt)
	e.Next.LastReviewedAt = copyTime(e.Next.LastReviewedAt)
	return e
}

// PoolCard is one entry of a card pool handed to the in-memory due selector.
// State is nil when the user never studied the card.
type PoolCard struct {
	CardID string
	State  *CardScheduleState
}

// DueCard is a card eligible for review. State is nil for never-studied cards.
type DueCard struct {
	CardID string             `json:"card_id"`
	State  *CardScheduleState `json:"state"`
}

// ReviewResult is the caller-facing view of a card schedule.
type ReviewResult struct {
	CardID          string     `json:"card_id"`
	NextReview      *time.Time `json:"next_review"`
	IntervalDays    int        `json:"interval"`
	EasinessFactor  float64    `json:"easiness"`
	RepetitionCount int        `json:"repetitions"`
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
