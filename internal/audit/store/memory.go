package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"vigil/internal/audit"
	id "vigil/pkg/domain"
	derrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/sentinel"
)

// InMemoryStore is a map-backed Store for unit tests and local development.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.EventID]audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.EventID]audit.Event)}
}

func (s *InMemoryStore) Append(_ context.Context, ev audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[ev.ID]; exists {
		return derrors.Newf(derrors.CodeConflict, "event %s already recorded", ev.ID)
	}
	s.events[ev.ID] = ev
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, eventID id.EventID) (audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[eventID]
	if !ok {
		return audit.Event{}, fmt.Errorf("event %s: %w", eventID, sentinel.ErrNotFound)
	}
	return ev, nil
}

func (s *InMemoryStore) Search(_ context.Context, q Query) (Page, error) {
	q = q.Normalize()

	s.mu.RLock()
	var hits []audit.Event
	for _, ev := range s.events {
		if matches(ev, q) {
			hits = append(hits, ev)
		}
	}
	s.mu.RUnlock()

	sortEvents(hits, q.Sort)

	total := len(hits)
	start := q.Offset
	if start > total {
		start = total
	}
	end := start + q.Limit
	if end > total {
		end = total
	}

	return Page{
		Events: hits[start:end],
		Total:  total,
		Limit:  q.Limit,
		Offset: q.Offset,
	}, nil
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subjectID id.SubjectID, since time.Time, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	var hits []audit.Event
	for _, ev := range s.events {
		if ev.SubjectID == subjectID && !ev.Timestamp.Before(since) {
			hits = append(hits, ev)
		}
	}
	s.mu.RUnlock()

	sortEvents(hits, SortNewestFirst)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *InMemoryStore) ActiveSubjects(_ context.Context, since time.Time) ([]id.SubjectID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[id.SubjectID]struct{})
	var subjects []id.SubjectID
	for _, ev := range s.events {
		if ev.SubjectID.IsNil() || ev.Timestamp.Before(since) {
			continue
		}
		if _, ok := seen[ev.SubjectID]; ok {
			continue
		}
		seen[ev.SubjectID] = struct{}{}
		subjects = append(subjects, ev.SubjectID)
	}
	return subjects, nil
}

// Len reports the number of stored events. Test helper.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func sortEvents(events []audit.Event, order SortOrder) {
	switch order {
	case SortOldestFirst:
		sort.Slice(events, func(i, j int) bool {
			return events[i].Timestamp.Before(events[j].Timestamp)
		})
	case SortRiskDesc:
		sort.Slice(events, func(i, j int) bool {
			return events[i].RiskScore() > events[j].RiskScore()
		})
	default:
		sort.Slice(events, func(i, j int) bool {
			return events[i].Timestamp.After(events[j].Timestamp)
		})
	}
}
