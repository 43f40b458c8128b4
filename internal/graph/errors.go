// SPDX-License-Identifier: MIT
package graph

import (
	"errors"
	"fmt"

	"soundscope/internal/config"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
	ErrShape    = errors.New("invalid graph shape")
	ErrRoot     = errors.New("root cannot be modified")
	ErrClosed   = errors.New("hierarchy closed")
	// ErrNoTasks also matches config.ErrInvalid.
	ErrNoTasks = fmt.Errorf("no analysis tasks enabled: %w", config.ErrInvalid)
)

// GraphError reports a failed hierarchy operation.
type GraphError struct {
	Op  string
	ID  string
	Err error
}

func (e *GraphError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("graph %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("graph %s %q: %v", e.Op, e.ID, e.Err)
}

func (e *GraphError) Unwrap() error { return e.Err }
