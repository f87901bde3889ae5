package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/southpawriter02/twinraven/pkg/models"
)

// MemoryRecordStore is an in-process RecordStore for tests.
type MemoryRecordStore struct {
	mu       sync.Mutex
	records  map[string]*models.ToolRecord
	versions map[string][]*models.ToolVersion
}

// NewMemoryRecordStore creates an empty in-memory record store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		records:  make(map[string]*models.ToolRecord),
		versions: make(map[string][]*models.ToolVersion),
	}
}

// CreateRecord stores a new record plus its first version.
func (s *MemoryRecordStore) CreateRecord(_ context.Context, rec *models.ToolRecord, ver *models.ToolVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.Slug]; ok {
		return fmt.Errorf("tool '%s': %w", rec.Slug, ErrDuplicateTool)
	}
	cloneRec := *rec
	cloneVer := *ver
	s.records[rec.Slug] = &cloneRec
	s.versions[rec.Slug] = append(s.versions[rec.Slug], &cloneVer)
	return nil
}

// GetRecord returns one record by slug.
func (s *MemoryRecordStore) GetRecord(_ context.Context, slug string) (*models.ToolRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[slug]
	if !ok {
		return nil, fmt.Errorf("tool '%s': %w", slug, ErrToolNotFound)
	}
	clone := *rec
	return &clone, nil
}

// ListRecords returns every record, slug-sorted.
func (s *MemoryRecordStore) ListRecords(_ context.Context) ([]*models.ToolRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.ToolRecord, 0, len(s.records))
	for _, rec := range s.records {
		clone := *rec
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// UpdateRecord replaces one record's mutable fields.
func (s *MemoryRecordStore) UpdateRecord(_ context.Context, rec *models.ToolRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.Slug]; !ok {
		return fmt.Errorf("tool '%s': %w", rec.Slug, ErrToolNotFound)
	}
	clone := *rec
	s.records[rec.Slug] = &clone
	return nil
}

// AddVersion appends one version row, rejecting duplicates.
func (s *MemoryRecordStore) AddVersion(_ context.Context, ver *models.ToolVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.versions[ver.Slug] {
		if existing.Version == ver.Version {
			return fmt.Errorf("tool '%s' v%d: %w", ver.Slug, ver.Version, ErrDuplicateTool)
		}
	}
	clone := *ver
	s.versions[ver.Slug] = append(s.versions[ver.Slug], &clone)
	return nil
}

// SupersedeVersion stamps the supersession time on one version.
func (s *MemoryRecordStore) SupersedeVersion(_ context.Context, slug string, version int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.versions[slug] {
		if existing.Version == version {
			t := at
			existing.SupersededAt = &t
			return nil
		}
	}
	return fmt.Errorf("tool '%s' v%d: %w", slug, version, ErrToolNotFound)
}

// ListVersions returns a slug's versions, oldest first.
func (s *MemoryRecordStore) ListVersions(_ context.Context, slug string) ([]*models.ToolVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.versions[slug]
	out := make([]*models.ToolVersion, 0, len(versions))
	for _, v := range versions {
		clone := *v
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
