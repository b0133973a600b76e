package utility

import (
	"sync"

	"github.com/google/uuid"
)

// RunID identifies one pipeline invocation. Every persisted artifact and
// log line carries it so partial re-runs can be tied together.
type RunID = uuid.UUID

var (
	runID     RunID
	runIDOnce sync.Once
)

func GetRunID() RunID {
	runIDOnce.Do(func() {
		runID = uuid.Must(uuid.NewV7())
	})
	return runID
}
