// Package artifact provides versioned artifact storage for the cleaning step.
//
// An artifact is a named file published by a run. Every publication creates a
// new immutable version (v1, v2, ...) and moves the "latest" alias to it.
// Runs consume artifacts by reference; each consumption is recorded so the
// lineage between input and output artifacts can be reconstructed.
//
// Two Store implementations are provided: LocalStore keeps blobs on disk with
// a SQLite catalog, HTTPStore talks to a remote artifact service.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/canectors/basic-cleaning/pkg/step"
)

// DefaultAlias is the alias resolved when a reference names no version.
const DefaultAlias = "latest"

// Store types accepted by Open.
const (
	StoreLocal = "local"
	StoreHTTP  = "http"
)

// DefaultLocalRoot is the LocalStore directory used when none is configured.
const DefaultLocalRoot = "./artifacts"

var (
	// ErrNotFound is returned when an artifact, version, alias or run does not exist.
	ErrNotFound = errors.New("artifact not found")

	// ErrInvalidRef is returned for malformed artifact references or names.
	ErrInvalidRef = errors.New("invalid artifact reference")

	// ErrEmptyArtifact is returned when publishing zero bytes.
	ErrEmptyArtifact = errors.New("artifact content is empty")
)

// Artifact describes one stored version of a named artifact.
type Artifact struct {
	Name        string    `json:"name"`
	Version     int       `json:"version"`
	Type        string    `json:"type,omitempty"`
	Description string    `json:"description,omitempty"`
	FileName    string    `json:"fileName"`
	Size        int64     `json:"size"`
	Digest      string    `json:"digest"`
	RunID       string    `json:"runId"`
	Aliases     []string  `json:"aliases,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// VersionTag returns the version in its "vN" form.
func (a *Artifact) VersionTag() string {
	return fmt.Sprintf("v%d", a.Version)
}

// Info converts the artifact to its public summary.
func (a *Artifact) Info() *step.ArtifactInfo {
	if a == nil {
		return nil
	}
	return &step.ArtifactInfo{
		Name:     a.Name,
		Version:  a.VersionTag(),
		Type:     a.Type,
		FileName: a.FileName,
		Size:     a.Size,
		Digest:   a.Digest,
	}
}

// Spec describes an artifact to publish.
type Spec struct {
	// Name of the artifact; versions accumulate under it
	Name string
	// Type is a free-form category such as "clean_sample"
	Type string
	// Description is stored with the version
	Description string
	// FileName is the name of the stored file (defaults to Name)
	FileName string
	// Aliases are applied to the new version in addition to "latest"
	Aliases []string
}

// Run is one execution of a job that consumes and produces artifacts.
type Run struct {
	ID        string                 `json:"id"`
	JobType   string                 `json:"jobType"`
	Config    map[string]interface{} `json:"config,omitempty"`
	StartedAt time.Time              `json:"startedAt"`
}

// Store is a versioned artifact repository.
type Store interface {
	// BeginRun registers a run. Use and Log require a registered run.
	BeginRun(ctx context.Context, run *Run) error

	// Use resolves ref, records the usage by runID and opens the artifact
	// content. The caller must close the returned reader.
	Use(ctx context.Context, runID string, ref Ref) (*Artifact, io.ReadCloser, error)

	// Log publishes the content of r as a new version of spec.Name and
	// points the "latest" alias and spec.Aliases at it. Content identical to
	// the latest version is not stored again: the existing version gets the
	// aliases and is returned with its original metadata.
	Log(ctx context.Context, runID string, spec Spec, r io.Reader) (*Artifact, error)

	// Versions lists every version of name, oldest first.
	Versions(ctx context.Context, name string) ([]*Artifact, error)

	// Close releases the resources held by the store.
	Close() error
}

// LineageReader reports what a recorded run consumed and produced.
// Refs are returned as "name:vN".
type LineageReader interface {
	Run(ctx context.Context, id string) (*Run, error)
	Usages(ctx context.Context, runID string) ([]string, error)
	Outputs(ctx context.Context, runID string) ([]string, error)
}

// Open creates the Store selected by cfg. A nil config opens a LocalStore
// at DefaultLocalRoot.
func Open(cfg *step.StoreConfig) (Store, error) {
	if cfg == nil {
		cfg = &step.StoreConfig{}
	}
	switch cfg.Type {
	case "", StoreLocal:
		root := cfg.Root
		if root == "" {
			root = DefaultLocalRoot
		}
		return NewLocalStore(root)
	case StoreHTTP:
		timeout := time.Duration(cfg.TimeoutSeconds * float64(time.Second))
		return NewHTTPStore(cfg.Endpoint, cfg.Token, timeout)
	default:
		return nil, fmt.Errorf("unknown artifact store type %q (expected %s or %s)", cfg.Type, StoreLocal, StoreHTTP)
	}
}
