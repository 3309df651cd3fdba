package api

// Context key types to avoid collisions
type contextKey string

const (
	callerIDKey contextKey = "caller_id"
	datasetKey  contextKey = "dataset"
)
