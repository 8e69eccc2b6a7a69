package server

import (
	"errors"
	"strings"
)

var (
	// ErrSignalStopped is returned through the dispatch path when the
	// wakeup eventfd carries a stop request.
	ErrSignalStopped = errors.New("signal stopped")

	// ErrSlabFull is returned by Slab.Insert when every token is live.
	ErrSlabFull = errors.New("connection table full")
)

type MultiError []error

func (m MultiError) Error() string {
	var b strings.Builder
	b.WriteString("multiple errors:")
	for _, err := range m {
		b.WriteString("\n- " + err.Error())
	}
	return b.String()
}
