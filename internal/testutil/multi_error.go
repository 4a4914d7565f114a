// Package testutil holds helpers shared by the package tests.
package testutil

import "sync"

// MultiError aggregates multiple errors into one.
type MultiError []error

func (m MultiError) Error() string {
	if len(m) == 0 {
		return ""
	}
	b := make([]byte, 0, 128)
	for i, err := range m {
		if err == nil {
			continue
		}
		if i > 0 {
			b = append(b, '\n')
		}
		b = append(b, err.Error()...)
	}
	return string(b)
}

// ErrOrNil returns nil for an empty MultiError.
func (m MultiError) ErrOrNil() error {
	if len(m) == 0 {
		return nil
	}
	return m
}

// AppendErr appends err to MultiError if err is not nil.
func AppendErr(m *MultiError, err error) {
	if err == nil {
		return
	}
	*m = append(*m, err)
}

// ErrorCollector is a MultiError safe for concurrent use, for HTTP handlers
// that cannot fail the test themselves.
type ErrorCollector struct {
	errs MultiError
	mu   sync.Mutex
}

// Add records err if it is not nil.
func (c *ErrorCollector) Add(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	AppendErr(&c.errs, err)
}

// Err returns the collected errors, or nil.
func (c *ErrorCollector) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	errs := make(MultiError, len(c.errs))
	copy(errs, c.errs)
	return errs.ErrOrNil()
}
