package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/golang-lru/v2"

	"medianalyst/internal/logger"
	"medianalyst/internal/types"
	"medianalyst/internal/util/jsonutil"
)

const (
	// Key is the single key the whole list is stored under, in every backend.
	Key = "medi_analyst_history"
	// Capacity is the number of analyses kept; older ones are dropped on Append.
	Capacity = 20
)

var ErrNotFound = errors.New("history: analysis not found")

// Backend stores one opaque value per key.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, value []byte) error
	Close() error
}

// Store keeps the most recent analyses newest-first under Key. Mutations are
// read-modify-write under mu.
type Store struct {
	backend Backend
	log     *logger.Logger

	mu    sync.Mutex
	cache *lru.Cache[string, types.MedicalAnalysis]
}

func New(backend Backend, log *logger.Logger) *Store {
	cache, err := lru.New[string, types.MedicalAnalysis](Capacity)
	if err != nil {
		panic(err)
	}
	return &Store{backend: backend, log: logger.OrNop(log), cache: cache}
}

// Close releases the backend.
func (s *Store) Close() error {
	if s == nil || s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

// Append prepends rec and keeps at most Capacity entries. Records are never replaced:
// when rec.ID is already taken the millisecond id and timestamp are bumped until free.
// The record as stored is returned.
func (s *Store) Append(ctx context.Context, rec types.MedicalAnalysis) (types.MedicalAnalysis, error) {
	if strings.TrimSpace(rec.ID) == "" {
		return types.MedicalAnalysis{}, fmt.Errorf("history: record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.loadLocked(ctx)
	if err != nil {
		return types.MedicalAnalysis{}, err
	}
	rec = uniqueID(rec, list)
	next := make([]types.MedicalAnalysis, 0, Capacity)
	next = append(next, rec)
	for _, old := range list {
		if len(next) == Capacity {
			break
		}
		next = append(next, old)
	}
	raw, err := jsonutil.MarshalNoEscape(next)
	if err != nil {
		return types.MedicalAnalysis{}, fmt.Errorf("history: encode: %w", err)
	}
	if err := s.backend.Save(ctx, Key, raw); err != nil {
		return types.MedicalAnalysis{}, fmt.Errorf("history: save: %w", err)
	}
	s.cache.Purge()
	return rec, nil
}

func uniqueID(rec types.MedicalAnalysis, list []types.MedicalAnalysis) types.MedicalAnalysis {
	taken := make(map[string]struct{}, len(list))
	for _, old := range list {
		taken[old.ID] = struct{}{}
	}
	if _, ok := taken[rec.ID]; !ok {
		return rec
	}
	ms, err := strconv.ParseInt(rec.ID, 10, 64)
	if err != nil {
		ms = rec.Timestamp
	}
	for {
		ms++
		id := strconv.FormatInt(ms, 10)
		if _, ok := taken[id]; !ok {
			rec.ID, rec.Timestamp = id, ms
			return rec
		}
	}
}

// List returns the stored analyses newest first.
func (s *Store) List(ctx context.Context) ([]types.MedicalAnalysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

// Get returns the analysis with the given id.
func (s *Store) Get(ctx context.Context, id string) (types.MedicalAnalysis, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return types.MedicalAnalysis{}, ErrNotFound
	}
	if rec, ok := s.cache.Get(id); ok {
		return rec, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.loadLocked(ctx)
	if err != nil {
		return types.MedicalAnalysis{}, err
	}
	for _, rec := range list {
		if rec.ID == id {
			s.cache.Add(id, rec)
			return rec, nil
		}
	}
	return types.MedicalAnalysis{}, ErrNotFound
}

// loadLocked reads the list. Corrupt data is logged and treated as empty.
func (s *Store) loadLocked(ctx context.Context) ([]types.MedicalAnalysis, error) {
	raw, ok, err := s.backend.Load(ctx, Key)
	if err != nil {
		return nil, fmt.Errorf("history: load: %w", err)
	}
	if !ok || len(strings.TrimSpace(string(raw))) == 0 {
		return []types.MedicalAnalysis{}, nil
	}
	var list []types.MedicalAnalysis
	if err := json.Unmarshal(raw, &list); err != nil {
		s.log.Warn("history data is corrupt, starting empty", "key", Key, "error", err)
		return []types.MedicalAnalysis{}, nil
	}
	if len(list) > Capacity {
		list = list[:Capacity]
	}
	return list, nil
}
