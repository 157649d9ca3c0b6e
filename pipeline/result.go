package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies an AIResult for display purposes.
type Kind string

const (
	KindAnswer Kind = "answer"
	KindError  Kind = "error"
)

// AIResult is one rendered response. Content grows in place while a
// stream is active; Streaming flips off when the transport finishes.
type AIResult struct {
	ID        string
	Kind      Kind
	Content   string
	Streaming bool
	CreatedAt time.Time
}

func newResult() *AIResult {
	return &AIResult{
		ID:        uuid.NewString(),
		Kind:      KindAnswer,
		Streaming: true,
		CreatedAt: time.Now(),
	}
}

// historyLimit bounds retained past results (most recent first).
const historyLimit = 20

func pushHistory(hist []AIResult, r AIResult) []AIResult {
	hist = append([]AIResult{r}, hist...)
	if len(hist) > historyLimit {
		hist = hist[:historyLimit]
	}
	return hist
}
