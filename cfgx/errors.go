package cfgx

import "strings"

// MultiError collects every error of a parse so they can be reported together.
type MultiError struct {
	Errs []error
}

func (e *MultiError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Unwrap allows errors.Is and errors.As to match any collected error.
func (e *MultiError) Unwrap() []error {
	return e.Errs
}
