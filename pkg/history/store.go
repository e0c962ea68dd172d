package history

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	pkgerrors "github.com/absmach/fedrun/pkg/errors"
	"github.com/absmach/fedrun/pkg/fl"
)

const tmpPattern = ".tmp-*"

// FileStore keeps one JSON record per version in dir and the matching
// weights blobs in dir/data.
type FileStore struct {
	dir     string
	maxSize int
	mu      sync.RWMutex
}

func NewFileStore(dir string, maxSize int) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, dataDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	return &FileStore{
		dir:     dir,
		maxSize: maxSize,
	}, nil
}

func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) Versions(ctx context.Context) ([]Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.versions()
}

func (s *FileStore) versions() ([]Version, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	var versions []Version
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, ok := strings.CutSuffix(entry.Name(), recordExt)
		if !ok {
			continue
		}
		v, err := ParseVersion(name)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	slices.Sort(versions)

	return versions, nil
}

func (s *FileStore) Latest(ctx context.Context) (RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return RunRecord{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, err := s.versions()
	if err != nil {
		return RunRecord{}, err
	}
	if len(versions) == 0 {
		return RunRecord{}, ErrNoHistory
	}
	latest := versions[len(versions)-1]

	r, err := s.read(latest)
	if err != nil {
		return RunRecord{}, fmt.Errorf("%w: version %s: %w", ErrCorruptHistory, latest, err)
	}

	return r, nil
}

func (s *FileStore) Get(ctx context.Context, v Version) (RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return RunRecord{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, err := s.read(v)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return RunRecord{}, fmt.Errorf("%w: version %s", pkgerrors.ErrNotFound, v)
	case err != nil:
		return RunRecord{}, fmt.Errorf("%w: version %s: %w", ErrCorruptHistory, v, err)
	}

	return r, nil
}

// List returns records newest first.
func (s *FileStore) List(ctx context.Context, offset, limit uint64) (RecordPage, error) {
	if err := ctx.Err(); err != nil {
		return RecordPage{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, err := s.versions()
	if err != nil {
		return RecordPage{}, err
	}
	slices.Reverse(versions)

	page := RecordPage{
		Offset:  offset,
		Limit:   limit,
		Total:   uint64(len(versions)),
		Records: []RunRecord{},
	}
	if offset >= page.Total {
		return page, nil
	}
	end := page.Total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	for _, v := range versions[offset:end] {
		r, err := s.read(v)
		if err != nil {
			return RecordPage{}, fmt.Errorf("%w: version %s: %w", ErrCorruptHistory, v, err)
		}
		page.Records = append(page.Records, r)
	}

	return page, nil
}

func (s *FileStore) AllocateNextVersion(previous *RunRecord) Version {
	if previous == nil {
		return 1
	}

	return previous.Version + 1
}

// Commit makes record and its weights durable. The blob is written first so
// that a visible record always has its weights.
func (s *FileStore) Commit(ctx context.Context, record RunRecord, blob fl.Weights) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := record.Validate(); err != nil {
		return err
	}

	data, err := Encode(record)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCommit, err)
	}
	payload, err := fl.EncodeWeights(blob, s.maxSize)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCommit, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFree(record.Version); err != nil {
		return err
	}

	blobPath := s.blobPath(record.Version)
	if err := writeAtomic(blobPath, payload); err != nil {
		return fmt.Errorf("%w: weights: %w", ErrCommit, err)
	}
	if err := writeAtomic(s.recordPath(record.Version), data); err != nil {
		return errors.Join(fmt.Errorf("%w: record: %w", ErrCommit, err), removeIfExists(blobPath))
	}

	return nil
}

// SaveBlob checkpoints weights for a version that has not been committed yet.
func (s *FileStore) SaveBlob(ctx context.Context, v Version, w fl.Weights) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := fl.EncodeWeights(w, s.maxSize)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFree(v); err != nil {
		return err
	}

	return writeAtomic(s.blobPath(v), payload)
}

func (s *FileStore) LoadBlob(ctx context.Context, ref string) (fl.Weights, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rel := filepath.FromSlash(ref)
	if ref == "" || !filepath.IsLocal(rel) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.dir, rel))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: weights %q", pkgerrors.ErrNotFound, ref)
	case err != nil:
		return nil, fmt.Errorf("failed to read weights: %w", err)
	}

	return fl.DecodeWeights(data, s.maxSize)
}

// Sink returns a weights sink that checkpoints into the blob of version v.
func (s *FileStore) Sink(v Version) fl.WeightsSink {
	return blobSink{store: s, version: v}
}

type blobSink struct {
	store   *FileStore
	version Version
}

func (bs blobSink) SaveWeights(ctx context.Context, _ int, w fl.Weights) error {
	return bs.store.SaveBlob(ctx, bs.version, w)
}

func (s *FileStore) read(v Version) (RunRecord, error) {
	data, err := os.ReadFile(s.recordPath(v))
	if err != nil {
		return RunRecord{}, err
	}
	r, err := Decode(data)
	if err != nil {
		return RunRecord{}, err
	}
	if r.Version != v {
		return RunRecord{}, fmt.Errorf("%w: file %s holds version %s", ErrInvalidRecord, v, r.Version)
	}

	return r, nil
}

func (s *FileStore) checkFree(v Version) error {
	_, err := os.Stat(s.recordPath(v))
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrVersionExists, v)
	case errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (s *FileStore) recordPath(v Version) string {
	return filepath.Join(s.dir, v.String()+recordExt)
}

func (s *FileStore) blobPath(v Version) string {
	return filepath.Join(s.dir, filepath.FromSlash(BlobRef(v)))
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, tmpPattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)

		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)

		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)

		return err
	}

	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()

	// Some filesystems refuse fsync on directories.
	_ = d.Sync()

	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return nil
}
