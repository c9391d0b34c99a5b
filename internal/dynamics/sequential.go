package dynamics

import (
	"fmt"

	"promptcompiler/internal/linalg"
)

// ComputeSequentialUpdates applies UpdateStep for each context in order
// against the same target. On failure the updates already applied stay
// committed; take a Weights snapshot first if the batch must be atomic.
func (e *Engine) ComputeSequentialUpdates(contexts []linalg.Vector, target linalg.Vector) ([]WeightUpdate, error) {
	updates := make([]WeightUpdate, 0, len(contexts))
	for i, context := range contexts {
		update, err := e.UpdateStep(context, target)
		if err != nil {
			return updates, fmt.Errorf("context %d: %w", i, err)
		}
		updates = append(updates, update)
	}
	return updates, nil
}
