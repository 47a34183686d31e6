package pipeline

import "errors"

var (
	// ErrIterationProducedEmpty is returned when an iteration merge yields
	// an empty file set.
	ErrIterationProducedEmpty = errors.New("iteration produced an empty file set")

	// ErrDataLossDetected is returned when an iteration merge would drop
	// more files than the configured threshold allows.
	ErrDataLossDetected = errors.New("iteration would remove too many files")

	// ErrParentNotCompleted is returned when an iteration references a
	// parent generation that is not in completed state.
	ErrParentNotCompleted = errors.New("parent generation is not completed")

	// ErrParentOutputsMissing is returned when a parent generation's files
	// are in neither the database record nor the artifact store.
	ErrParentOutputsMissing = errors.New("parent generation outputs are not available")
)
