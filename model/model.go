package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a code execution.
//
// Transitions are monotonic: QUEUED -> RUNNING -> {COMPLETED, ERROR}.
// Once a record reaches a terminal state it never leaves it.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusError     Status = "ERROR"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Valid reports whether the status is one of the recognized values.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusError:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next respects the
// monotonic lifecycle.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusQueued:
		return next == StatusRunning || next.Terminal()
	case StatusRunning:
		return next.Terminal()
	}
	return false
}

// Language identifies the primary runtime of a project.
type Language string

const (
	LanguagePython     Language = "python"
	LanguageJavaScript Language = "javascript"
	LanguageRuby       Language = "ruby"
)

// Valid reports whether the language is one of the recognized values.
func (l Language) Valid() bool {
	switch l {
	case LanguagePython, LanguageJavaScript, LanguageRuby:
		return true
	}
	return false
}

// Project is the top-level container for code files. The execution core
// only reads its ID; metadata belongs to the storage collaborators.
type Project struct {
	ID          uuid.UUID
	Name        string
	Description string
	Language    Language
	OwnerID     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// File is a single source file belonging to a project. Path is relative
// to the project root.
type File struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	Path      string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the structural constraints on a file.
func (f File) Validate() error {
	if strings.TrimSpace(f.Path) == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	if f.ProjectID == uuid.Nil {
		return fmt.Errorf("file %s has no project id", f.Path)
	}
	return nil
}

// ResourceUsage holds the resource metrics sampled for an execution.
type ResourceUsage struct {
	MemoryBytes uint64
	CPUTime     time.Duration
}

// ExecutionRecord is the mutable snapshot of one execution's status,
// timestamps and captured output. The engine owns the canonical copy;
// callers only ever see clones.
//
// Invariant: ExitCode and CompletedAt are non-nil if and only if Status
// is terminal.
type ExecutionRecord struct {
	ID          uuid.UUID
	ProjectID   uuid.UUID
	Status      Status
	Stdout      string
	Stderr      string
	ExitCode    *int
	StartedAt   time.Time
	CompletedAt *time.Time
	Usage       ResourceUsage
}

// Clone returns a deep copy of the record so the engine's canonical
// copy is never aliased by callers.
func (r *ExecutionRecord) Clone() *ExecutionRecord {
	cp := *r
	if r.ExitCode != nil {
		code := *r.ExitCode
		cp.ExitCode = &code
	}
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp
}
