package types

// ThreadStatus describes the externally visible state of a thread.
type ThreadStatus string

const (
	// StatusNotFound means no checkpoint exists for the thread id.
	StatusNotFound ThreadStatus = "NOT_FOUND"
	// StatusInProgress means the thread has checkpoints but is neither
	// suspended nor completed.
	StatusInProgress ThreadStatus = "IN_PROGRESS"
	// StatusSuspended means the latest checkpoint carries a pending
	// interrupt and the thread is waiting on a resume value.
	StatusSuspended ThreadStatus = "SUSPENDED"
	// StatusCompleted means the thread reached the terminal marker.
	StatusCompleted ThreadStatus = "COMPLETED"
)

// Terminal reports whether the status admits no further execution.
func (s ThreadStatus) Terminal() bool {
	return s == StatusCompleted
}
