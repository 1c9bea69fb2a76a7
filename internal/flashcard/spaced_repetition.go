package flashcard

import (
	"math"
	"time"

	"github.com/magnushaga/ankicardgenerator-sub000/internal/errors"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/models"
)

const (
	// MinQuality and MaxQuality bound the SM-2 recall rating.
	MinQuality = 0
	MaxQuality = 5

	// PassingQuality is the lowest rating that counts as remembered. The session
	// aggregator uses the same threshold for its correct count.
	PassingQuality = 3

	MinEaseFactor     = 1.3
	DefaultEaseFactor = 2.5
	DefaultInterval   = 1

	secondInterval = 6
)

// Schedule is the numeric part of a card's SM-2 state.
type Schedule struct {
	EasinessFactor  float64
	IntervalDays    int
	RepetitionCount int
}

// DefaultSchedule is the state of a card that was never reviewed.
func DefaultSchedule() Schedule {
	return Schedule{
		EasinessFactor:  DefaultEaseFactor,
		IntervalDays:    DefaultInterval,
		RepetitionCount: 0,
	}
}

// Passed reports whether quality counts as a successful recall.
func Passed(quality int) bool {
	return quality >= PassingQuality
}

// Update runs one SM-2 step. It is pure; quality outside [0,5] is rejected, never clamped.
//
// Intervals beyond the second repetition use math.Round, so halves round away from zero
// (6 * 2.25 = 13.5 -> 14).
func Update(quality int, prior Schedule) (Schedule, error) {
	if quality < MinQuality || quality > MaxQuality {
		return Schedule{}, errors.NewFieldError("quality", errors.ErrInvalidQuality)
	}

	var next Schedule
	if !Passed(quality) {
		next.RepetitionCount = 0
		next.IntervalDays = DefaultInterval
	} else {
		next.RepetitionCount = prior.RepetitionCount + 1
		switch next.RepetitionCount {
		case 1:
			next.IntervalDays = DefaultInterval
		case 2:
			next.IntervalDays = secondInterval
		default:
			next.IntervalDays = int(math.Round(float64(prior.IntervalDays) * prior.EasinessFactor))
		}
	}

	miss := float64(MaxQuality - quality)
	next.EasinessFactor = math.Max(MinEaseFactor, prior.EasinessFactor+(0.1-miss*(0.08+miss*0.02)))
	return next, nil
}

// ApplyReview returns state after a review of the given quality at now.
// The next review is scheduled from the review moment, not from the previous due date.
func ApplyReview(state models.CardScheduleState, quality int, now time.Time) (models.CardScheduleState, error) {
	next, err := Update(quality, Schedule{
		EasinessFactor:  state.EasinessFactor,
		IntervalDays:    state.IntervalDays,
		RepetitionCount: state.RepetitionCount,
	})
	if err != nil {
		return state, err
	}

	reviewedAt := now.UTC()
	due := reviewedAt.AddDate(0, 0, next.IntervalDays)

	state.EasinessFactor = next.EasinessFactor
	state.IntervalDays = next.IntervalDays
	state.RepetitionCount = next.RepetitionCount
	state.LastReviewedAt = &reviewedAt
	state.NextReviewAt = &due
	return state, nil
}
