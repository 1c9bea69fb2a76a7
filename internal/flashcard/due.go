package flashcard

import (
	"container/heap"
	"iter"
	"slices"
	"time"

	"github.com/magnushaga/ankicardgenerator-sub000/internal/models"
)

type dueEntry struct {
	card  models.DueCard
	fresh bool // never studied
	due   time.Time
	seq   int // position in the pool
}

func dueLess(a, b dueEntry) bool {
	if a.fresh != b.fresh {
		return a.fresh
	}
	if !a.fresh && !a.due.Equal(b.due) {
		return a.due.Before(b.due)
	}
	return a.seq < b.seq
}

// worstFirst is a max-heap on due order: the root is the entry that would be dropped first.
type worstFirst []dueEntry

func (h worstFirst) Len() int           { return len(h) }
func (h worstFirst) Less(i, j int) bool { return dueLess(h[j], h[i]) }
func (h worstFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *worstFirst) Push(x any)        { *h = append(*h, x.(dueEntry)) }
func (h *worstFirst) Pop() any {
	old := *h
	e := old[len(old)-1]
	*h = old[:len(old)-1]
	return e
}

// SelectDue yields the cards of pool that are eligible at now: never-studied cards first,
// then reviewed cards by ascending next review, ties in pool order. With limit > 0 at most
// limit cards are produced and only limit candidates are held in memory at any time.
func SelectDue(pool []models.PoolCard, now time.Time, limit int) iter.Seq[models.DueCard] {
	return func(yield func(models.DueCard) bool) {
		var kept worstFirst
		for i, pc := range pool {
			e := dueEntry{card: models.DueCard{CardID: pc.CardID, State: pc.State}, seq: i}
			switch {
			case pc.State == nil || pc.State.NextReviewAt == nil:
				e.fresh = true
			case pc.State.IsDue(now):
				e.due = *pc.State.NextReviewAt
			default:
				continue
			}

			if limit <= 0 || kept.Len() < limit {
				heap.Push(&kept, e)
				continue
			}
			if dueLess(e, kept[0]) {
				kept[0] = e
				heap.Fix(&kept, 0)
			}
		}

		slices.SortFunc(kept, func(a, b dueEntry) int {
			switch {
			case dueLess(a, b):
				return -1
			case dueLess(b, a):
				return 1
			}
			return 0
		})
		for _, e := range kept {
			if !yield(e.card) {
				return
			}
		}
	}
}
