package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/runbed/runbed/errdefs"
	"github.com/runbed/runbed/model"
)

const uniqueViolation = "23505"

// Config holds connection settings for the Postgres backend.
type Config struct {
	URL             string
	PingTimeout     time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id          UUID PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	language    TEXT NOT NULL,
	owner_id    TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
	id         UUID PRIMARY KEY,
	project_id UUID NOT NULL,
	path       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (project_id, path)
);

CREATE INDEX IF NOT EXISTS files_project_idx ON files (project_id);
`

// Open connects to Postgres via the pgx stdlib driver and verifies the
// connection with a bounded ping.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, errors.New("postgres url is required")
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 2 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return db, nil
}

// Store implements storage.ProjectStorage and storage.FileStorage on a
// Postgres database.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database handle. EnsureSchema must have run
// before the store serves requests.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the projects and files tables if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return &errdefs.StorageError{Op: "ensure schema", Err: err}
	}
	return nil
}

func (s *Store) CreateProject(ctx context.Context, project model.Project) (model.Project, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, language, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		project.ID, project.Name, project.Description, string(project.Language),
		project.OwnerID, project.CreatedAt, project.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Project{}, errdefs.Duplicatef("project %s", project.ID)
		}
		return model.Project{}, &errdefs.StorageError{Op: "create project", Err: err}
	}
	return project, nil
}

func (s *Store) GetProject(ctx context.Context, id uuid.UUID) (model.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, language, owner_id, created_at, updated_at
		FROM projects WHERE id = $1`, id)

	project, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Project{}, errdefs.NotFoundf("project %s", id)
	}
	if err != nil {
		return model.Project{}, &errdefs.StorageError{Op: "get project", Err: err}
	}
	return project, nil
}

func (s *Store) ListProjects(ctx context.Context, ownerID string) ([]model.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, language, owner_id, created_at, updated_at
		FROM projects WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, &errdefs.StorageError{Op: "list projects", Err: err}
	}
	defer rows.Close()

	var projects []model.Project
	for rows.Next() {
		project, scanErr := scanProject(rows)
		if scanErr != nil {
			return nil, &errdefs.StorageError{Op: "list projects", Err: scanErr}
		}
		projects = append(projects, project)
	}
	if err := rows.Err(); err != nil {
		return nil, &errdefs.StorageError{Op: "list projects", Err: err}
	}
	return projects, nil
}

func (s *Store) DeleteProject(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return &errdefs.StorageError{Op: "delete project", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &errdefs.StorageError{Op: "delete project", Err: err}
	}
	if affected == 0 {
		return errdefs.NotFoundf("project %s", id)
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM files WHERE project_id = $1`, id)
	if err != nil {
		return &errdefs.StorageError{Op: "delete project files", Err: err}
	}
	return nil
}

func (s *Store) CreateFile(ctx context.Context, file model.File) (model.File, error) {
	if err := file.Validate(); err != nil {
		return model.File{}, err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (id, project_id, path, content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		file.ID, file.ProjectID, file.Path, file.Content, file.CreatedAt, file.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.File{}, errdefs.Duplicatef("file %s in project %s", file.Path, file.ProjectID)
		}
		return model.File{}, &errdefs.StorageError{Op: "create file", Err: err}
	}
	return file, nil
}

func (s *Store) GetFile(ctx context.Context, id uuid.UUID) (model.File, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, path, content, created_at, updated_at
		FROM files WHERE id = $1`, id)

	file, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.File{}, errdefs.NotFoundf("file %s", id)
	}
	if err != nil {
		return model.File{}, &errdefs.StorageError{Op: "get file", Err: err}
	}
	return file, nil
}

func (s *Store) ListFiles(ctx context.Context, projectID uuid.UUID) ([]model.File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, path, content, created_at, updated_at
		FROM files WHERE project_id = $1 ORDER BY path`, projectID)
	if err != nil {
		return nil, &errdefs.StorageError{Op: "list files", Err: err}
	}
	defer rows.Close()

	var files []model.File
	for rows.Next() {
		file, scanErr := scanFile(rows)
		if scanErr != nil {
			return nil, &errdefs.StorageError{Op: "list files", Err: scanErr}
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, &errdefs.StorageError{Op: "list files", Err: err}
	}
	return files, nil
}

func (s *Store) DeleteFile(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return &errdefs.StorageError{Op: "delete file", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &errdefs.StorageError{Op: "delete file", Err: err}
	}
	if affected == 0 {
		return errdefs.NotFoundf("file %s", id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(row scanner) (model.Project, error) {
	var p model.Project
	var language string
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &language, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return model.Project{}, err
	}
	p.Language = model.Language(language)
	return p, nil
}

func scanFile(row scanner) (model.File, error) {
	var f model.File
	if err := row.Scan(&f.ID, &f.ProjectID, &f.Path, &f.Content, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return model.File{}, err
	}
	return f, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
