// Package journal persists projects and their change history so that a
// project's table can be rebuilt after a restart.
//
// A project stores the CSV it was imported from (its base) and an ordered
// list of history records. Records are numbered from 1; the head is the
// number of records currently applied, so records after the head are the
// redo tail. Replaying records 1..head onto the base reproduces the table.
//
// Three backends implement [Store]: an in-memory store for tests and
// throwaway servers, an embedded Badger store, and a Postgres store.
package journal

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrProjectNotFound is returned for an unknown project id.
	ErrProjectNotFound = errors.New("project not found")

	// ErrProjectExists is returned when creating a project with a taken id.
	ErrProjectExists = errors.New("project already exists")

	// ErrSequence is returned when a record or head does not follow the
	// project's current head.
	ErrSequence = errors.New("history sequence mismatch")

	// ErrCorrupted is returned when a stored value fails its checksum.
	ErrCorrupted = errors.New("journal entry corrupted")
)

// Project is a stored project.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	BaseCSV   []byte    `json:"-"`
	Head      int       `json:"head"`
	CreatedAt time.Time `json:"created_at"`
}

// Record is one history entry. Payload is the change's serialized form and
// Kind selects the decoder for it.
type Record struct {
	ProjectID   string    `json:"project_id"`
	Seq         int       `json:"seq"`
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Description string    `json:"description"`
	Payload     []byte    `json:"payload"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the persistence contract shared by all backends.
type Store interface {
	// CreateProject stores a new project with head 0.
	CreateProject(ctx context.Context, p Project) error

	// Projects lists every project, oldest first, without base CSV data.
	Projects(ctx context.Context) ([]Project, error)

	// Project returns one project including its base CSV.
	Project(ctx context.Context, id string) (Project, error)

	// DeleteProject removes a project and its history.
	DeleteProject(ctx context.Context, id string) error

	// Append stores rec as record head+1, discarding every record after
	// the current head, and moves the head to rec.Seq. rec.Seq must be
	// head+1.
	Append(ctx context.Context, rec Record) error

	// SetHead moves the head within [0, number of records].
	SetHead(ctx context.Context, projectID string, head int) error

	// Entries returns every record of a project in sequence order,
	// including the redo tail.
	Entries(ctx context.Context, projectID string) ([]Record, error)

	Close() error
}
