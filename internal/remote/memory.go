package remote

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is a map-backed Store used by tests and by local-only mode when
// no backend is configured. It delivers the same snapshot semantics as the
// REST store: each write pushes the full result set to matching subscribers.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string]map[string]any
	subscribers map[*memorySub]struct{}
	user        User
}

type memorySub struct {
	query Query
	ch    chan Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]map[string]any),
		subscribers: make(map[*memorySub]struct{}),
	}
}

// SetUser sets the identity returned by CurrentUser.
func (s *MemoryStore) SetUser(user User) {
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
}

func (s *MemoryStore) CurrentUser(ctx context.Context) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user.ID == "" {
		return User{}, ErrNoUser
	}
	return s.user, nil
}

func (s *MemoryStore) CreateDocument(ctx context.Context, collection string, fields map[string]any) (string, error) {
	s.mu.Lock()
	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string]map[string]any)
	}
	id := uuid.NewString()
	s.collections[collection][id] = cloneFields(fields)
	s.notifyLocked(collection)
	s.mu.Unlock()
	return id, nil
}

func (s *MemoryStore) UpdateDocument(ctx context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.collections[collection][id]
	if !ok {
		return ErrNotFound
	}
	for k, v := range fields {
		doc[k] = v
	}
	s.notifyLocked(collection)
	return nil
}

func (s *MemoryStore) DeleteDocument(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection][id]; !ok {
		return ErrNotFound
	}
	delete(s.collections[collection], id)
	s.notifyLocked(collection)
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, query Query) (*Subscription, error) {
	sub := &memorySub{query: query, ch: make(chan Snapshot, 1)}

	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	sub.push(Snapshot{Query: query, Docs: s.evaluateLocked(query)})
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[sub]; ok {
			delete(s.subscribers, sub)
			close(sub.ch)
		}
		s.mu.Unlock()
	}
	return NewSubscription(sub.ch, cancel), nil
}

// push delivers a snapshot, replacing an undelivered older one: a subscriber
// that lags only ever sees the latest full result set.
func (sub *memorySub) push(snap Snapshot) {
	for {
		select {
		case sub.ch <- snap:
			return
		default:
			select {
			case <-sub.ch:
			default:
			}
		}
	}
}

func (s *MemoryStore) notifyLocked(collection string) {
	for sub := range s.subscribers {
		if sub.query.Collection != collection {
			continue
		}
		sub.push(Snapshot{Query: sub.query, Docs: s.evaluateLocked(sub.query)})
	}
}

func (s *MemoryStore) evaluateLocked(query Query) []Document {
	var docs []Document
	for id, fields := range s.collections[query.Collection] {
		if query.Field == "id" {
			if id != query.Value {
				continue
			}
		} else if query.Field != "" {
			v, ok := fields[query.Field]
			if !ok {
				continue
			}
			str, ok := v.(string)
			if !ok || str != query.Value {
				continue
			}
		}
		docs = append(docs, Document{ID: id, Fields: cloneFields(fields)})
	}
	return docs
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
