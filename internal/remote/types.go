package remote

import "fmt"

// ConnectionDescriptor holds everything needed to route traffic to one
// database on a remote branch. Descriptors are transient: they are consumed
// to render proxy configuration and to derive the persisted branch entry,
// and are never stored themselves.
type ConnectionDescriptor struct {
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password"`
	Host     string `json:"host"`
	BranchID string `json:"branch_id"`
}

// APIError is returned for non-success responses from the branching service.
type APIError struct {
	StatusCode int
	URL        string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("branching service returned %d for %s: %s", e.StatusCode, e.URL, e.Message)
}
