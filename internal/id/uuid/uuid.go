// Package uuid generates task ids in the format Celery uses for AsyncResult ids.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// TaskIDs creates task ids. The zero value produces random (v4) ids, matching
// what Celery assigns; Ordered switches to time-ordered v7 ids.
type TaskIDs struct {
	Ordered bool
}

// New returns a generator for Celery-style task ids.
func New() TaskIDs {
	return TaskIDs{}
}

// NewID returns a fresh task id.
func (g TaskIDs) NewID() (string, error) {
	var (
		id  uuid.UUID
		err error
	)
	if g.Ordered {
		id, err = uuid.NewV7()
	} else {
		id, err = uuid.NewRandom()
	}
	if err != nil {
		return "", fmt.Errorf("generate task id: %w", err)
	}
	return id.String(), nil
}

// Valid reports whether id parses as a canonical UUID.
func Valid(id string) bool {
	parsed, err := uuid.Parse(id)
	return err == nil && parsed.String() == id
}
