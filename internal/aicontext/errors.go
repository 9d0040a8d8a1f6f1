package aicontext

import (
	"errors"
	"fmt"
)

// ErrNotFound is matched by every *NotFoundError.
var ErrNotFound = errors.New("root element not found")

// NotFoundError reports a root reference that did not resolve.
type NotFoundError struct {
	Selector string
}

func (e *NotFoundError) Error() string {
	if e.Selector == "" {
		return ErrNotFound.Error()
	}
	return fmt.Sprintf("root element not found for selector: %s", e.Selector)
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
