package segment

import (
	"translator/internal/model"
)

// Plan groups segments into batches. Larger content gets smaller batches so
// that more of them can run in parallel; the batch count never exceeds
// MaxBatches through segment-count sizing alone.
func (e *Engine) Plan(segments []model.Segment) []model.Batch {
	if len(segments) == 0 {
		return nil
	}

	per := e.batchSegments(TotalChars(segments))
	if limit := e.policy.MaxBatches; limit > 0 && ceilDiv(len(segments), per) > limit {
		per = ceilDiv(len(segments), limit)
	}

	var (
		batches []model.Batch
		current []model.Segment
		chars   int
	)

	flush := func() {
		if len(current) == 0 {
			return
		}
		batches = append(batches, model.Batch{
			Index:    len(batches),
			Start:    current[0].Index,
			End:      current[len(current)-1].Index + 1,
			Segments: current,
		})
		current = nil
		chars = 0
	}

	for _, s := range segments {
		n := len([]rune(s.Text))
		if len(current) > 0 && (len(current) >= per || chars+n > e.policy.MaxBatchChars) {
			flush()
		}
		current = append(current, s)
		chars += n
	}
	flush()

	return batches
}

// Split segments text and plans its batches in one step
func (e *Engine) Split(text string) ([]model.Batch, int, error) {
	segments, err := e.Segment(text)
	if err != nil {
		return nil, 0, err
	}
	return e.Plan(segments), TotalChars(segments), nil
}

// Concurrency scales the number of concurrent batch slots with content size,
// clamped to [1, min(ceiling, batches)].
func (e *Engine) Concurrency(totalChars, ceiling, batches int) int {
	slots := ceilDiv(totalChars, e.policy.SlotChars)
	if ceiling > 0 && slots > ceiling {
		slots = ceiling
	}
	if batches > 0 && slots > batches {
		slots = batches
	}
	if slots < 1 {
		slots = 1
	}
	return slots
}

func (e *Engine) batchSegments(totalChars int) int {
	switch {
	case totalChars < e.policy.SmallContentChars:
		return e.policy.SmallBatchSegments
	case totalChars < e.policy.LargeContentChars:
		return e.policy.MediumBatchSegments
	default:
		return e.policy.LargeBatchSegments
	}
}

// TotalChars counts the runes across all segments
func TotalChars(segments []model.Segment) int {
	n := 0
	for _, s := range segments {
		n += len([]rune(s.Text))
	}
	return n
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}
