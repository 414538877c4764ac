package chessdto

import "fmt"

// RelayError is returned when the relay answers with a non-2xx status.
type RelayError struct {
	Status    int
	Body      string
	Retryable bool
}

func (e *RelayError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("relay error: status=%d body=%s", e.Status, e.Body)
	}
	return fmt.Sprintf("relay error: status=%d", e.Status)
}
