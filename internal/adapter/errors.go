package adapter

import "fmt"

// APIError is a failed model endpoint call. Retryable distinguishes
// transient failures (timeouts, 429, 5xx) from permanent ones (4xx,
// malformed responses).
type APIError struct {
	Model     string
	Status    int // HTTP status, 0 for transport errors
	Retryable bool
	Message   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("adapter: model %q: %s", e.Model, e.Message)
}

// retryableStatus reports whether an HTTP status indicates a transient error.
func retryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}
