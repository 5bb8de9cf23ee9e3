package archive

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/smedrec/smart-logs/pkg/audit"
)

// MemStore is an in-memory archive Store for tests and the embedded
// deployment.
type MemStore struct {
	mu       sync.Mutex
	order    []string
	archives map[string]*Archive
}

// NewMemStore creates an empty in-memory archive store.
func NewMemStore() *MemStore {
	return &MemStore{archives: make(map[string]*Archive)}
}

// Insert implements Store.
func (s *MemStore) Insert(_ context.Context, a *Archive) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	cp.Data = slices.Clone(a.Data)
	s.archives[a.ID] = &cp
	s.order = append(s.order, a.ID)
	return nil
}

// Get implements Store.
func (s *MemStore) Get(_ context.Context, id string) (*Archive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.archives[id]
	if !ok {
		return nil, ErrArchiveNotFound
	}
	cp := *a
	cp.Data = slices.Clone(a.Data)
	return &cp, nil
}

// Select implements Store.
func (s *MemStore) Select(_ context.Context, f ArchiveFilter) ([]*Archive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := f.Limit
	if limit == 0 {
		limit = 100
	}

	var out []*Archive
	skipped := 0
	for _, id := range s.order {
		a := s.archives[id]
		if a == nil || !matchArchive(a, f) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		cp := *a
		cp.Data = slices.Clone(a.Data)
		out = append(out, &cp)
	}
	return out, nil
}

func matchArchive(a *Archive, f ArchiveFilter) bool {
	if f.ArchiveID != "" && a.ID != f.ArchiveID {
		return false
	}
	if f.DateRange != nil {
		if a.Metadata.DateRange == nil || !f.DateRange.Intersects(*a.Metadata.DateRange) {
			return false
		}
	}
	if len(f.DataClassifications) > 0 && !slices.Contains(f.DataClassifications, a.Metadata.DataClassification) {
		return false
	}
	if len(f.RetentionPolicies) > 0 && !slices.Contains(f.RetentionPolicies, a.Metadata.RetentionPolicy) {
		return false
	}
	return true
}

// All implements Store.
func (s *MemStore) All(_ context.Context) ([]*Archive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Archive, 0, len(s.order))
	for _, id := range s.order {
		if a := s.archives[id]; a != nil {
			cp := *a
			cp.Data = slices.Clone(a.Data)
			out = append(out, &cp)
		}
	}
	return out, nil
}

// BumpRetrieval implements Store.
func (s *MemStore) BumpRetrieval(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.archives[id]
	if !ok {
		return ErrArchiveNotFound
	}
	a.RetrievedCount++
	t := at
	a.LastRetrievedAt = &t
	return nil
}

// Delete implements Store.
func (s *MemStore) Delete(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for _, id := range ids {
		if _, ok := s.archives[id]; !ok {
			continue
		}
		delete(s.archives, id)
		if i := slices.Index(s.order, id); i >= 0 {
			s.order = slices.Delete(s.order, i, i+1)
		}
		deleted++
	}
	return deleted, nil
}

// MemRecordStore is an in-memory RecordStore.
type MemRecordStore struct {
	mu      sync.Mutex
	records map[string]*audit.Record
	order   []string
}

// NewMemRecordStore creates an empty in-memory record store.
func NewMemRecordStore() *MemRecordStore {
	return &MemRecordStore{records: make(map[string]*audit.Record)}
}

// Add inserts live records (test seeding and ingestion).
func (s *MemRecordStore) Add(records ...audit.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		cp := rec
		s.records[rec.ID] = &cp
		s.order = append(s.order, rec.ID)
	}
}

// SelectForArchival implements RecordStore.
func (s *MemRecordStore) SelectForArchival(_ context.Context, classification audit.DataClassification, policy string, cutoff time.Time) ([]audit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Record
	for _, id := range s.order {
		rec := s.records[id]
		if rec == nil || rec.ArchivedAt != nil {
			continue
		}
		if rec.DataClassification != classification || rec.RetentionPolicy != policy {
			continue
		}
		if !rec.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

// MarkArchived implements RecordStore.
func (s *MemRecordStore) MarkArchived(_ context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if rec := s.records[id]; rec != nil {
			t := at
			rec.ArchivedAt = &t
		}
	}
	return nil
}

// DeleteOlderThan implements RecordStore.
func (s *MemRecordStore) DeleteOlderThan(_ context.Context, policy string, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for _, id := range slices.Clone(s.order) {
		rec := s.records[id]
		if rec == nil || rec.RetentionPolicy != policy || !rec.Timestamp.Before(cutoff) {
			continue
		}
		s.removeLocked(id)
		deleted++
	}
	return deleted, nil
}

// SelectByCriteria implements RecordStore.
func (s *MemRecordStore) SelectByCriteria(_ context.Context, c DeleteCriteria) ([]audit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Record
	for _, id := range s.order {
		rec := s.records[id]
		if rec == nil || !matchRecordCriteria(rec, c) {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

func matchRecordCriteria(rec *audit.Record, c DeleteCriteria) bool {
	if c.PrincipalID != "" && rec.PrincipalID != c.PrincipalID {
		return false
	}
	if c.OrganizationID != "" && rec.OrganizationID != c.OrganizationID {
		return false
	}
	if c.DateRange != nil && !c.DateRange.Contains(rec.Timestamp) {
		return false
	}
	if len(c.DataClassifications) > 0 && !slices.Contains(c.DataClassifications, rec.DataClassification) {
		return false
	}
	if len(c.RetentionPolicies) > 0 && !slices.Contains(c.RetentionPolicies, rec.RetentionPolicy) {
		return false
	}
	return true
}

// DeleteByIDs implements RecordStore.
func (s *MemRecordStore) DeleteByIDs(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			s.removeLocked(id)
			deleted++
		}
	}
	return deleted, nil
}

// CountByIDs implements RecordStore.
func (s *MemRecordStore) CountByIDs(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			count++
		}
	}
	return count, nil
}

func (s *MemRecordStore) removeLocked(id string) {
	delete(s.records, id)
	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
}

// MemPolicyStore is an in-memory PolicyStore that validates on ingestion.
type MemPolicyStore struct {
	mu       sync.Mutex
	policies []RetentionPolicy
}

// NewMemPolicyStore creates an empty in-memory policy store.
func NewMemPolicyStore() *MemPolicyStore {
	return &MemPolicyStore{}
}

// Put validates and upserts a policy by name.
func (s *MemPolicyStore) Put(p RetentionPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.policies {
		if existing.PolicyName == p.PolicyName {
			s.policies[i] = p
			return nil
		}
	}
	s.policies = append(s.policies, p)
	return nil
}

// Active implements PolicyStore.
func (s *MemPolicyStore) Active(_ context.Context) ([]RetentionPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RetentionPolicy
	for _, p := range s.policies {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}
