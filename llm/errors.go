package llm

import (
	"errors"
	"fmt"
)

// UpstreamError wraps a transport failure or non-2xx answer from the
// generation endpoint. It is terminal for the invocation that hit it.
type UpstreamError struct {
	Provider string
	Status   int
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s upstream: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s upstream: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsUpstream reports whether err originated at the generation endpoint.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
