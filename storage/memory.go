package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/runbed/runbed/errdefs"
	"github.com/runbed/runbed/model"
)

// MemoryStore is an in-memory implementation of ProjectStorage and
// FileStorage. It backs tests and embedders that do not need durable
// metadata; the Postgres backend covers the durable case.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[uuid.UUID]model.Project
	files    map[uuid.UUID]model.File
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[uuid.UUID]model.Project),
		files:    make(map[uuid.UUID]model.File),
	}
}

func (s *MemoryStore) CreateProject(_ context.Context, project model.Project) (model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.projects[project.ID]; exists {
		return model.Project{}, errdefs.Duplicatef("project %s", project.ID)
	}
	s.projects[project.ID] = project
	return project, nil
}

func (s *MemoryStore) GetProject(_ context.Context, id uuid.UUID) (model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	project, exists := s.projects[id]
	if !exists {
		return model.Project{}, errdefs.NotFoundf("project %s", id)
	}
	return project, nil
}

func (s *MemoryStore) ListProjects(_ context.Context, ownerID string) ([]model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var projects []model.Project
	for _, p := range s.projects {
		if p.OwnerID == ownerID {
			projects = append(projects, p)
		}
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].CreatedAt.Before(projects[j].CreatedAt)
	})
	return projects, nil
}

func (s *MemoryStore) DeleteProject(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.projects[id]; !exists {
		return errdefs.NotFoundf("project %s", id)
	}
	delete(s.projects, id)
	for fid, f := range s.files {
		if f.ProjectID == id {
			delete(s.files, fid)
		}
	}
	return nil
}

func (s *MemoryStore) CreateFile(_ context.Context, file model.File) (model.File, error) {
	if err := file.Validate(); err != nil {
		return model.File{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.files[file.ID]; exists {
		return model.File{}, errdefs.Duplicatef("file %s", file.ID)
	}
	for _, f := range s.files {
		if f.ProjectID == file.ProjectID && f.Path == file.Path {
			return model.File{}, errdefs.Duplicatef("file %s in project %s", file.Path, file.ProjectID)
		}
	}
	s.files[file.ID] = file
	return file, nil
}

func (s *MemoryStore) GetFile(_ context.Context, id uuid.UUID) (model.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, exists := s.files[id]
	if !exists {
		return model.File{}, errdefs.NotFoundf("file %s", id)
	}
	return file, nil
}

func (s *MemoryStore) ListFiles(_ context.Context, projectID uuid.UUID) ([]model.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var files []model.File
	for _, f := range s.files {
		if f.ProjectID == projectID {
			files = append(files, f)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func (s *MemoryStore) DeleteFile(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.files[id]; !exists {
		return errdefs.NotFoundf("file %s", id)
	}
	delete(s.files, id)
	return nil
}
