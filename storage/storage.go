package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/runbed/runbed/model"
)

// ProjectStorage is the persistence contract for project metadata.
//
// Get and Delete fail with errdefs.ErrNotFound for unknown ids; Create
// fails with errdefs.ErrDuplicate on id collision. Backend malfunctions
// surface as *errdefs.StorageError.
type ProjectStorage interface {
	CreateProject(ctx context.Context, project model.Project) (model.Project, error)
	GetProject(ctx context.Context, id uuid.UUID) (model.Project, error)
	ListProjects(ctx context.Context, ownerID string) ([]model.Project, error)
	DeleteProject(ctx context.Context, id uuid.UUID) error
}

// FileStorage is the persistence contract for project files.
//
// The execution engine depends on it solely through ListFiles, to
// materialize a read-only snapshot before sandbox creation. Contract
// errors follow the same taxonomy as ProjectStorage; Create additionally
// rejects a second file at the same (project, path).
type FileStorage interface {
	CreateFile(ctx context.Context, file model.File) (model.File, error)
	GetFile(ctx context.Context, id uuid.UUID) (model.File, error)
	ListFiles(ctx context.Context, projectID uuid.UUID) ([]model.File, error)
	DeleteFile(ctx context.Context, id uuid.UUID) error
}
