package flashcard

import (
	"fmt"
	"time"

	"github.com/magnushaga/ankicardgenerator-sub000/internal/models"
)

// NewScheduleState builds the default state of a never-reviewed card.
func NewScheduleState(userID, cardID string, createdAt time.Time) (models.CardScheduleState, error) {
	if userID == "" {
		return models.CardScheduleState{}, fmt.Errorf("schedule state: empty user id")
	}
	if cardID == "" {
		return models.CardScheduleState{}, fmt.Errorf("schedule state: empty card id")
	}
	d := DefaultSchedule()
	return models.CardScheduleState{
		UserID:          userID,
		CardID:          cardID,
		EasinessFactor:  d.EasinessFactor,
		IntervalDays:    d.IntervalDays,
		RepetitionCount: d.RepetitionCount,
		CreatedAt:       createdAt.UTC(),
	}, nil
}

// CheckInvariants returns an error describing the first broken scheduling invariant.
func CheckInvariants(s models.CardScheduleState) error {
	switch {
	case s.EasinessFactor < MinEaseFactor:
		return fmt.Errorf("easiness %.4f below floor %.1f", s.EasinessFactor, MinEaseFactor)
	case s.IntervalDays < 1:
		return fmt.Errorf("interval %d below 1 day", s.IntervalDays)
	case s.RepetitionCount < 0:
		return fmt.Errorf("negative repetition count %d", s.RepetitionCount)
	case (s.NextReviewAt == nil) != (s.LastReviewedAt == nil):
		return fmt.Errorf("next review and last review must be set together")
	}
	if s.LastReviewedAt != nil {
		want := s.LastReviewedAt.AddDate(0, 0, s.IntervalDays)
		if !s.NextReviewAt.Equal(want) {
			return fmt.Errorf("next review %s is not last review + %d days", s.NextReviewAt.Format(time.RFC3339), s.IntervalDays)
		}
	}
	return nil
}
