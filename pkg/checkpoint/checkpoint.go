// Package checkpoint persists which partitions of each table have been
// committed to the target, so an interrupted job resumes where it stopped.
//
// Every store keeps one JSON document per (job, table). Backends only need
// to get, put, delete and list whole objects.
package checkpoint

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tablesync/pkg/config"
	"github.com/ajitpratap0/tablesync/pkg/errors"
	"github.com/ajitpratap0/tablesync/pkg/logger"
)

// ErrNotExist is returned by a Backend for a missing object.
var ErrNotExist = errors.New(errors.ErrorTypeNotFound, "checkpoint object does not exist")

// Key identifies the checkpoint of one target table within one job.
type Key struct {
	JobID string
	Table string
}

func (k Key) String() string { return k.JobID + "/" + k.Table }

// PartitionRecord is one committed partition.
type PartitionRecord struct {
	ID          string    `json:"id"`
	Sequence    int       `json:"sequence"`
	Rows        int64     `json:"rows"`
	Digest      uint64    `json:"digest,omitempty"`
	CommittedAt time.Time `json:"committed_at"`
	// LowerBound is the key the plan started from in incremental mode
	LowerBound *int64 `json:"lower_bound,omitempty"`
}

// TableCheckpoint is the persisted state of one table.
type TableCheckpoint struct {
	JobID      string            `json:"job_id"`
	Table      string            `json:"table"`
	Partitions []PartitionRecord `json:"partitions"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Committed indexes the partitions by ID.
func (tc *TableCheckpoint) Committed() map[string]PartitionRecord {
	out := make(map[string]PartitionRecord, len(tc.Partitions))
	for _, p := range tc.Partitions {
		out[p.ID] = p
	}
	return out
}

// LastSequence returns the highest committed sequence, -1 when none.
func (tc *TableCheckpoint) LastSequence() int {
	last := -1
	for _, p := range tc.Partitions {
		last = max(last, p.Sequence)
	}
	return last
}

// LowerBound returns the incremental lower bound recorded with the
// partitions, if any.
func (tc *TableCheckpoint) LowerBound() (int64, bool) {
	for _, p := range tc.Partitions {
		if p.LowerBound != nil {
			return *p.LowerBound, true
		}
	}
	return 0, false
}

// Rows returns the rows recorded across all committed partitions.
func (tc *TableCheckpoint) Rows() int64 {
	var n int64
	for _, p := range tc.Partitions {
		n += p.Rows
	}
	return n
}

// Store records committed partitions. Commit must be durable before it
// returns; a partition is either fully recorded or absent.
type Store interface {
	// Commit records partitions for key. Re-committing an ID replaces it.
	Commit(ctx context.Context, key Key, records ...PartitionRecord) error
	// Load returns the checkpoint of key, empty when none exists.
	Load(ctx context.Context, key Key) (*TableCheckpoint, error)
	Clear(ctx context.Context, key Key) error
	// List returns every table checkpoint of a job.
	List(ctx context.Context, jobID string) ([]*TableCheckpoint, error)
	Close() error
}

// Backend stores whole objects by name.
type Backend interface {
	Get(ctx context.Context, name string) ([]byte, error)
	Put(ctx context.Context, name string, data []byte) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// ObjectStore implements Store over a Backend, one object per table.
type ObjectStore struct {
	backend Backend
	prefix  string
	logger  *zap.Logger

	mu    sync.Mutex
	cache map[Key]*TableCheckpoint
}

// NewObjectStore creates a store writing objects under prefix.
func NewObjectStore(backend Backend, prefix string) *ObjectStore {
	return &ObjectStore{
		backend: backend,
		prefix:  strings.Trim(prefix, "/"),
		logger:  logger.Get().With(zap.String("component", "checkpoint")),
		cache:   make(map[Key]*TableCheckpoint),
	}
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func safeName(s string) string {
	return unsafeChars.ReplaceAllString(s, "_")
}

func (s *ObjectStore) jobPrefix(jobID string) string {
	return path.Join(s.prefix, safeName(jobID)) + "/"
}

// ObjectName returns the object holding key.
func (s *ObjectStore) ObjectName(key Key) string {
	return s.jobPrefix(key.JobID) + safeName(key.Table) + ".json"
}

func (s *ObjectStore) load(ctx context.Context, key Key) (*TableCheckpoint, error) {
	if tc, ok := s.cache[key]; ok {
		return tc, nil
	}

	data, err := s.backend.Get(ctx, s.ObjectName(key))
	if errors.Is(err, ErrNotExist) {
		tc := &TableCheckpoint{JobID: key.JobID, Table: key.Table}
		s.cache[key] = tc
		return tc, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, fmt.Sprintf("failed to read checkpoint %s", key))
	}

	var tc TableCheckpoint
	if err := json.Unmarshal(data, &tc); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, fmt.Sprintf("corrupt checkpoint %s", key))
	}
	if tc.JobID != key.JobID || tc.Table != key.Table {
		return nil, errors.New(errors.ErrorTypeData,
			fmt.Sprintf("checkpoint %s belongs to %s/%s", s.ObjectName(key), tc.JobID, tc.Table))
	}
	s.cache[key] = &tc
	return &tc, nil
}

// Commit implements Store
func (s *ObjectStore) Commit(ctx context.Context, key Key, records ...PartitionRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tc, err := s.load(ctx, key)
	if err != nil {
		return err
	}

	next := &TableCheckpoint{JobID: key.JobID, Table: key.Table, UpdatedAt: time.Now().UTC()}
	replaced := make(map[string]bool, len(records))
	for _, r := range records {
		replaced[r.ID] = true
	}
	for _, p := range tc.Partitions {
		if !replaced[p.ID] {
			next.Partitions = append(next.Partitions, p)
		}
	}
	next.Partitions = append(next.Partitions, records...)
	sort.SliceStable(next.Partitions, func(i, j int) bool {
		return next.Partitions[i].Sequence < next.Partitions[j].Sequence
	})

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode checkpoint")
	}
	if err := s.backend.Put(ctx, s.ObjectName(key), data); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, fmt.Sprintf("failed to write checkpoint %s", key))
	}

	s.cache[key] = next
	return nil
}

// Load implements Store
func (s *ObjectStore) Load(ctx context.Context, key Key) (*TableCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tc, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	out := *tc
	out.Partitions = append([]PartitionRecord(nil), tc.Partitions...)
	return &out, nil
}

// Clear implements Store
func (s *ObjectStore) Clear(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cache, key)
	if err := s.backend.Delete(ctx, s.ObjectName(key)); err != nil && !errors.Is(err, ErrNotExist) {
		return errors.Wrap(err, errors.ErrorTypeFile, fmt.Sprintf("failed to clear checkpoint %s", key))
	}
	s.logger.Debug("checkpoint cleared", zap.String("job_id", key.JobID), zap.String("table", key.Table))
	return nil
}

// List implements Store
func (s *ObjectStore) List(ctx context.Context, jobID string) ([]*TableCheckpoint, error) {
	names, err := s.backend.List(ctx, s.jobPrefix(jobID))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, fmt.Sprintf("failed to list checkpoints of %s", jobID))
	}
	sort.Strings(names)

	out := make([]*TableCheckpoint, 0, len(names))
	for _, name := range names {
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := s.backend.Get(ctx, name)
		if err != nil {
			if errors.Is(err, ErrNotExist) {
				continue
			}
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read checkpoint "+name)
		}
		var tc TableCheckpoint
		if err := json.Unmarshal(data, &tc); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "corrupt checkpoint "+name)
		}
		out = append(out, &tc)
	}
	return out, nil
}

// Close implements Store
func (s *ObjectStore) Close() error {
	return s.backend.Close()
}

// New opens the store selected by cfg.
func New(ctx context.Context, cfg config.CheckpointConfig) (Store, error) {
	switch cfg.Backend {
	case "file":
		backend, err := NewFileBackend(cfg.Path)
		if err != nil {
			return nil, err
		}
		return NewObjectStore(backend, ""), nil
	case "s3":
		backend, err := NewS3Backend(ctx, cfg.Bucket, cfg.Region)
		if err != nil {
			return nil, err
		}
		return NewObjectStore(backend, cfg.Prefix), nil
	case "gcs":
		backend, err := NewGCSBackend(ctx, cfg.Bucket, cfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
		return NewObjectStore(backend, cfg.Prefix), nil
	case "memory":
		return NewMemoryStore(), nil
	case "none":
		return NopStore{}, nil
	default:
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unsupported checkpoint backend: %s", cfg.Backend))
	}
}
