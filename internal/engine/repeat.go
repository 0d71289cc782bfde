package engine

import (
	"context"

	"gorm.io/gorm"

	"reportinsight/internal/classify"
)

// DefaultHistoryDepth is how many of the author's latest reports a new one
// is compared against.
const DefaultHistoryDepth = 5

// HistoryReader returns an author's latest report texts, most recent first.
type HistoryReader interface {
	RecentTexts(ctx context.Context, tx *gorm.DB, authorID string, limit int) ([]string, error)
}

// RepeatScorer measures how much of an author's recent history a new text
// repeats verbatim after normalization.
type RepeatScorer struct {
	history HistoryReader
	depth   int
}

func NewRepeatScorer(history HistoryReader, depth int) *RepeatScorer {
	if depth <= 0 {
		depth = DefaultHistoryDepth
	}
	return &RepeatScorer{history: history, depth: depth}
}

// Score returns matches/examined over the latest history texts, in [0,1].
// An author without history scores 0.
func (r *RepeatScorer) Score(ctx context.Context, tx *gorm.DB, authorID, text string) (float64, error) {
	recent, err := r.history.RecentTexts(ctx, tx, authorID, r.depth)
	if err != nil {
		return 0, err
	}
	return repeatRatio(text, recent), nil
}

func repeatRatio(text string, recent []string) float64 {
	if len(recent) == 0 {
		return 0
	}
	base := classify.Normalize(text)
	matches := 0
	for _, h := range recent {
		if classify.Normalize(h) == base {
			matches++
		}
	}
	return float64(matches) / float64(len(recent))
}
