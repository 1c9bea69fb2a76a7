package flashcard

import "github.com/magnushaga/ankicardgenerator-sub000/internal/errors"

// ValidatedReview is a review submission that passed ValidateReview.
type ValidatedReview struct {
	Quality     int
	TimeTakenMs *int64
}

// ValidateReview is the single gate in front of the scheduler. It has no side effects.
func ValidateReview(quality *int, timeTakenMs *int64) (ValidatedReview, error) {
	if quality == nil || *quality < MinQuality || *quality > MaxQuality {
		return ValidatedReview{}, errors.NewFieldError("quality", errors.ErrInvalidQuality)
	}
	if timeTakenMs != nil && *timeTakenMs < 0 {
		return ValidatedReview{}, errors.NewFieldError("time_taken_ms", errors.ErrInvalidDuration)
	}

	v := ValidatedReview{Quality: *quality}
	if timeTakenMs != nil {
		ms := *timeTakenMs
		v.TimeTakenMs = &ms
	}
	return v, nil
}
