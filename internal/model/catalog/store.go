package catalog

import "github.com/zhouzirui/gpt-bridge/backend/internal/model/chat"

// Store exposes the models a backend can switch between.
type Store interface {
	List() []chat.Model
	FindByID(id string) (chat.Model, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []chat.Model
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied models.
func NewMemoryStore(items []chat.Model) *MemoryStore {
	return &MemoryStore{items: append([]chat.Model(nil), items...)}
}

// List returns the model list in seed order.
func (s *MemoryStore) List() []chat.Model {
	return append([]chat.Model(nil), s.items...)
}

// FindByID looks up a model by identifier.
func (s *MemoryStore) FindByID(id string) (chat.Model, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return chat.Model{}, false
}
