package contextmgr

import "fmt"

// CompactionError reports a failed compaction. The conversation it was
// computed from is left untouched and remains usable.
type CompactionError struct {
	Reason string
	Err    error
}

func (e *CompactionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("compaction failed: %s: %v", e.Reason, e.Err)
	}
	return "compaction failed: " + e.Reason
}

func (e *CompactionError) Unwrap() error { return e.Err }
