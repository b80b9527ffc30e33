package reasoning

import "github.com/xiaot623/gogo/runview/internal/domain"

// Merge combines persisted and live step maps into a new map. A live entry
// replaces the persisted entry for the same run id as a whole; steps from the
// two sources are never interleaved. Neither input is modified.
func Merge(persisted, live domain.StepMap) domain.StepMap {
	out := make(domain.StepMap, len(persisted)+len(live))
	for runID, steps := range persisted {
		out[runID] = steps
	}
	for runID, steps := range live {
		out[runID] = steps
	}
	return out
}
