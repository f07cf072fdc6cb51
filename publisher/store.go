package publisher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNotFound is returned when an artifact does not exist.
	ErrNotFound = errors.New("artifact not found")
	// ErrExists is returned when storing under a name that is taken.
	ErrExists = errors.New("artifact already exists")
	// ErrInvalidName is returned for names that are not plain file names.
	ErrInvalidName = errors.New("invalid artifact name")
)

// Artifact is a stored report.
type Artifact struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Location string `json:"location"`
}

// Store keeps report artifacts. Artifacts are write-once.
type Store interface {
	Put(ctx context.Context, name string, data []byte) (Artifact, error)
	Get(ctx context.Context, name string) ([]byte, error)
	Exists(ctx context.Context, name string) (bool, error)
	Location(name string) string
}

// ValidName reports whether name is a plain file name.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.Contains(name, "..")
}

// LocalStore keeps artifacts as files in Dir.
type LocalStore struct {
	Dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &LocalStore{Dir: dir}, nil
}

// Put writes to a temp file and links it into place, so readers never see
// a partial artifact and an existing one is never replaced.
func (s *LocalStore) Put(ctx context.Context, name string, data []byte) (Artifact, error) {
	if !ValidName(name) {
		return Artifact{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	tmp, err := os.CreateTemp(s.Dir, ".artifact-*")
	if err != nil {
		return Artifact{}, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return Artifact{}, err
	}
	if err := tmp.Close(); err != nil {
		return Artifact{}, err
	}

	final := filepath.Join(s.Dir, name)
	if err := os.Link(tmpName, final); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return Artifact{}, fmt.Errorf("%w: %s", ErrExists, name)
		}
		return Artifact{}, err
	}
	return Artifact{Name: name, Size: int64(len(data)), Location: s.Location(name)}, nil
}

func (s *LocalStore) Get(ctx context.Context, name string) ([]byte, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.Dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return data, err
}

func (s *LocalStore) Exists(_ context.Context, name string) (bool, error) {
	if !ValidName(name) {
		return false, nil
	}
	_, err := os.Stat(filepath.Join(s.Dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (s *LocalStore) Location(name string) string { return filepath.Join(s.Dir, name) }
