package fsarchive

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/lodeworks/lode/internal/value"
)

// Archive is a filesystem-tree backend. It satisfies archive.Store when
// opened writable and rejects writes when opened read-only.
type Archive struct {
	id       string
	root     string
	writable bool

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Open creates or opens a writable filesystem archive rooted at root.
// The directory skeleton is created if missing. Idempotent.
func Open(id, root string) (*Archive, error) {
	return open(id, root, true)
}

// OpenReadOnly opens an existing filesystem archive for reading only.
// All write-contract calls return archive.ErrReadOnly.
func OpenReadOnly(id, root string) (*Archive, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("open read-only archive %q: %w", id, err)
	}
	return open(id, root, false)
}

func open(id, root string, writable bool) (*Archive, error) {
	if id == "" {
		return nil, fmt.Errorf("open archive: empty id")
	}
	if writable {
		for _, dir := range []string{"values", "index", "jobs", "jobindex", "environments"} {
			if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
				return nil, fmt.Errorf("open archive %q: %w", id, err)
			}
		}
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("open archive %q: zstd encoder: %w", id, err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("open archive %q: zstd decoder: %w", id, err)
	}

	return &Archive{id: id, root: root, writable: writable, enc: enc, dec: dec}, nil
}

// ID returns the mount identifier.
func (a *Archive) ID() string { return a.id }

// Root returns the archive's root directory.
func (a *Archive) Root() string { return a.root }

func (a *Archive) valueDir(id value.ID) string {
	return filepath.Join(a.root, "values", string(id))
}

func (a *Archive) valuePath(id value.ID) string {
	return filepath.Join(a.valueDir(id), "value.json")
}

func (a *Archive) loadConfigPath(id value.ID) string {
	return filepath.Join(a.valueDir(id), "load.json")
}

func (a *Archive) payloadPath(id value.ID) string {
	return filepath.Join(a.valueDir(id), "data", "payload.zst")
}

func (a *Archive) indexPath(dataType, hash string) string {
	return filepath.Join(a.root, "index", dataType+"."+hash)
}

func (a *Archive) manifestDir(manifestHash string) string {
	return filepath.Join(a.root, "jobs", manifestHash)
}

func (a *Archive) jobIndexPath(jobHash string) string {
	return filepath.Join(a.root, "jobindex", jobHash)
}

func (a *Archive) environmentPath(envType, envHash string) string {
	return filepath.Join(a.root, "environments", envType, envHash+".json")
}
