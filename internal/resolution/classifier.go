package resolution

import (
	"fmt"

	"github.com/storydesk/storydesk/internal/corpus"
)

// Classification is the threshold verdict on an item's best candidate
type Classification string

const (
	AutoNew       Classification = "AUTO_NEW"
	AutoDuplicate Classification = "AUTO_DUPLICATE"
	Ambiguous     Classification = "AMBIGUOUS"
)

// Thresholds partition bm25 scores. Scores are negative; lower is more similar.
type Thresholds struct {
	New       float64
	Duplicate float64
}

// Validate requires Duplicate < New <= 0
func (t Thresholds) Validate() error {
	if t.New > 0 {
		return fmt.Errorf("threshold_new must be <= 0 (got %v)", t.New)
	}
	if t.Duplicate >= t.New {
		return fmt.Errorf("threshold_duplicate must be below threshold_new (got %v >= %v)", t.Duplicate, t.New)
	}
	return nil
}

// Classify looks at the best candidate only. It returns that candidate, or
// nil when there was none.
func (t Thresholds) Classify(candidates []corpus.Candidate) (Classification, *corpus.Candidate) {
	if len(candidates) == 0 {
		return AutoNew, nil
	}
	top := candidates[0]
	switch {
	case top.Score >= t.New:
		return AutoNew, &top
	case top.Score <= t.Duplicate:
		return AutoDuplicate, &top
	default:
		return Ambiguous, &top
	}
}
