package app

// SyncOperation tracks a CLI invocation that may write decision or run
// records. Operations are created in memory with an empty ID. Only
// record-mutating commands persist them (assigning the run its id).
type SyncOperation struct {
	ID         string
	Operation  string
	Parameters string
	Status     string // "completed" or "failed"
}

// NewSyncOperation creates a new in-memory sync operation.
func NewSyncOperation(operation, parameters string) *SyncOperation {
	return &SyncOperation{
		Operation:  operation,
		Parameters: parameters,
		Status:     "completed",
	}
}

// Persisted returns true if this operation has been saved to the record store.
func (op *SyncOperation) Persisted() bool {
	return op.ID != ""
}
