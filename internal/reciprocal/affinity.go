package reciprocal

import (
	"context"
	"fmt"
	"time"

	"github.com/trueque-collective/trueque/internal/item"
	"github.com/trueque-collective/trueque/internal/swipe"
)

// DefaultHistoryWindow bounds how far back the learner reads swipe
// events.
const DefaultHistoryWindow = 30 * 24 * time.Hour

// Learner derives per-user category affinities from recent swipe
// history. The affinity of a user for a category is the like ratio of
// that user's swipes on items of that category: likes / (likes +
// dislikes). Categories the user never swiped on carry no entry, which
// the affinity store reports as 0.
type Learner struct {
	items  item.Store
	swipes swipe.Store
	window time.Duration
}

// NewLearner creates a Learner. A non-positive window falls back to
// DefaultHistoryWindow.
func NewLearner(items item.Store, swipes swipe.Store, window time.Duration) *Learner {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &Learner{items: items, swipes: swipes, window: window}
}

// Learn computes the affinity map for all users with swipe activity in
// the window. Events whose swiper or swiped item no longer exists are
// skipped.
func (l *Learner) Learn(ctx context.Context, now time.Time) (map[string]map[string]float64, error) {
	events, err := l.swipes.ListSince(ctx, now.Add(-l.window))
	if err != nil {
		return nil, fmt.Errorf("loading swipe history: %w", err)
	}

	all, err := l.items.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading items: %w", err)
	}
	owner := make(map[string]string, len(all))
	cat := make(map[string]string, len(all))
	for _, i := range all {
		owner[i.ID] = i.OwnerID
		cat[i.ID] = i.Category
	}

	type tally struct{ likes, total int }
	counts := make(map[string]map[string]*tally)
	for _, ev := range events {
		user, ok := owner[ev.SwiperItemID]
		if !ok {
			continue
		}
		c, ok := cat[ev.SwipedItemID]
		if !ok {
			continue
		}
		if counts[user] == nil {
			counts[user] = make(map[string]*tally)
		}
		t := counts[user][c]
		if t == nil {
			t = &tally{}
			counts[user][c] = t
		}
		t.total++
		if ev.Liked {
			t.likes++
		}
	}

	out := make(map[string]map[string]float64, len(counts))
	for user, cats := range counts {
		inner := make(map[string]float64, len(cats))
		for c, t := range cats {
			inner[c] = float64(t.likes) / float64(t.total)
		}
		out[user] = inner
	}
	return out, nil
}
