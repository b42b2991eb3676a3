package artifact

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/canectors/basic-cleaning/internal/errhandling"
	"github.com/canectors/basic-cleaning/internal/logger"
)

// LocalStore keeps artifact files under a root directory, one directory per
// version (<root>/<name>/v<N>/<file>), and tracks runs, versions, aliases and
// usages in a SQLite catalog at <root>/.catalog.db.
//
// Publishing content whose digest equals the current "latest" version does
// not create a new version: the requested aliases are moved to the existing
// version and the run is recorded as one of its producers, but the version
// keeps the type, description and run ID it was first published with.
type LocalStore struct {
	root    string
	catalog *catalog
	mu      sync.Mutex
	now     func() time.Time
}

// NewLocalStore opens (or creates) a local store rooted at root.
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, errors.New("local store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	cat, err := openCatalog(filepath.Join(root, catalogFile))
	if err != nil {
		return nil, fmt.Errorf("opening catalog in %s: %w", root, err)
	}
	logger.Debug("local artifact store opened", slog.String("root", root))
	return &LocalStore{root: root, catalog: cat, now: time.Now}, nil
}

// Root returns the store directory.
func (s *LocalStore) Root() string {
	return s.root
}

// BeginRun registers run. Registering the same ID twice updates its job
// type and configuration.
func (s *LocalStore) BeginRun(ctx context.Context, run *Run) error {
	if run == nil || run.ID == "" {
		return errors.New("run ID is required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now()
	}
	if err := s.catalog.insertRun(ctx, run); err != nil {
		return fmt.Errorf("registering run %s: %w", run.ID, err)
	}
	logger.Debug("run registered",
		slog.String("run_id", run.ID),
		slog.String("job_type", run.JobType),
	)
	return nil
}

// Run returns a registered run.
func (s *LocalStore) Run(ctx context.Context, id string) (*Run, error) {
	return s.catalog.getRun(ctx, id)
}

// Outputs returns the artifact versions logged by a run, as "name:vN",
// including versions whose content was already published.
func (s *LocalStore) Outputs(ctx context.Context, runID string) ([]string, error) {
	return s.catalog.productions(ctx, runID)
}

// Usages returns the artifact versions consumed by a run, as "name:vN".
func (s *LocalStore) Usages(ctx context.Context, runID string) ([]string, error) {
	return s.catalog.usages(ctx, runID)
}

var _ LineageReader = (*LocalStore)(nil)

// Use resolves ref and opens the stored file.
func (s *LocalStore) Use(ctx context.Context, runID string, ref Ref) (*Artifact, io.ReadCloser, error) {
	if err := ValidateName(ref.Name); err != nil {
		return nil, nil, err
	}
	if _, err := s.catalog.getRun(ctx, runID); err != nil {
		return nil, nil, err
	}

	version, err := resolveVersion(ctx, s.catalog.db, ref)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving %s: %w", ref, err)
	}
	a, err := getVersion(ctx, s.catalog.db, ref.Name, version)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving %s: %w", ref, err)
	}

	f, err := os.Open(s.blobPath(a))
	if err != nil {
		return nil, nil, errhandling.NewIOError(fmt.Sprintf("opening %s:%s", a.Name, a.VersionTag()), err)
	}
	if err := s.catalog.recordUsage(ctx, runID, a, s.now()); err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("recording usage of %s:%s: %w", a.Name, a.VersionTag(), err)
	}
	return a, f, nil
}

// Log stores the content of r as a new version of spec.Name.
func (s *LocalStore) Log(ctx context.Context, runID string, spec Spec, r io.Reader) (*Artifact, error) {
	if err := ValidateName(spec.Name); err != nil {
		return nil, err
	}
	fileName := spec.FileName
	if fileName == "" {
		fileName = spec.Name
	}
	if err := ValidateName(fileName); err != nil {
		return nil, fmt.Errorf("file name: %w", err)
	}
	aliases := uniqueAliases(spec.Aliases)
	for _, alias := range aliases {
		if !namePattern.MatchString(alias) || versionPattern.MatchString(alias) {
			return nil, fmt.Errorf("%w: alias %q", ErrInvalidRef, alias)
		}
	}
	if _, err := s.catalog.getRun(ctx, runID); err != nil {
		return nil, err
	}

	tmpName, size, digest, err := s.stage(r)
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.Remove(tmpName) }()
	if size == 0 {
		return nil, ErrEmptyArtifact
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.catalog.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting catalog transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if current, err := resolveVersion(ctx, tx, Ref{Name: spec.Name, Alias: DefaultAlias}); err == nil {
		existing, err := getVersion(ctx, tx, spec.Name, current)
		if err != nil {
			return nil, err
		}
		if existing.Digest == digest {
			return s.republish(ctx, tx, runID, existing, aliases)
		}
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	version, err := nextVersion(ctx, tx, spec.Name)
	if err != nil {
		return nil, fmt.Errorf("allocating version of %s: %w", spec.Name, err)
	}
	a := &Artifact{
		Name:        spec.Name,
		Version:     version,
		Type:        spec.Type,
		Description: spec.Description,
		FileName:    fileName,
		Size:        size,
		Digest:      digest,
		RunID:       runID,
		Aliases:     aliases,
		CreatedAt:   s.now(),
	}
	if err := insertVersion(ctx, tx, a); err != nil {
		return nil, fmt.Errorf("recording %s:%s: %w", a.Name, a.VersionTag(), err)
	}
	if err := setAliases(ctx, tx, a.Name, a.Version, aliases); err != nil {
		return nil, err
	}
	if err := recordProduction(ctx, tx, runID, a, a.CreatedAt); err != nil {
		return nil, err
	}

	dest := s.blobPath(a)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, errhandling.NewIOError("creating version directory", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return nil, errhandling.NewIOError(fmt.Sprintf("storing %s:%s", a.Name, a.VersionTag()), err)
	}
	if err := tx.Commit(); err != nil {
		_ = os.RemoveAll(filepath.Dir(dest))
		return nil, fmt.Errorf("committing %s:%s: %w", a.Name, a.VersionTag(), err)
	}
	return a, nil
}

// republish handles a Log whose content equals the latest version: aliases
// move to it and runID is linked as a producer. No file is written.
func (s *LocalStore) republish(ctx context.Context, tx *sql.Tx, runID string, existing *Artifact, aliases []string) (*Artifact, error) {
	if err := setAliases(ctx, tx, existing.Name, existing.Version, aliases); err != nil {
		return nil, err
	}
	if err := recordProduction(ctx, tx, runID, existing, s.now()); err != nil {
		return nil, err
	}
	a, err := getVersion(ctx, tx, existing.Name, existing.Version)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing %s:%s: %w", a.Name, a.VersionTag(), err)
	}
	logger.Debug("artifact content unchanged",
		slog.String("artifact", a.Name),
		slog.String("version", a.VersionTag()),
		slog.String("digest", a.Digest),
		slog.String("run_id", runID),
	)
	return a, nil
}

// Versions lists every version of name, oldest first.
func (s *LocalStore) Versions(ctx context.Context, name string) ([]*Artifact, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	versions, err := s.catalog.listVersions(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", name, err)
	}
	if len(versions) == 0 {
		return nil, notFound("%s", name)
	}
	return versions, nil
}

// Close closes the catalog.
func (s *LocalStore) Close() error {
	return s.catalog.close()
}

func (s *LocalStore) blobPath(a *Artifact) string {
	return filepath.Join(s.root, a.Name, a.VersionTag(), a.FileName)
}

// stage copies r into a temporary file inside the store root, returning its
// path, size and sha256 digest.
func (s *LocalStore) stage(r io.Reader) (string, int64, string, error) {
	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return "", 0, "", errhandling.NewIOError("creating staging file", err)
	}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", 0, "", errhandling.NewIOError("staging artifact content", err)
	}
	return tmp.Name(), n, "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

func notFound(format string, args ...any) error {
	what := strings.TrimSpace(fmt.Sprintf(format, args...))
	return errhandling.NewNotFoundError(what+" not found", ErrNotFound)
}
