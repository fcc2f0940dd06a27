package tutor

// Store exposes tutor lookup for handlers and the session layer.
type Store interface {
	List() []Tutor
	FindByID(id string) (Tutor, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Tutor
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied tutors.
func NewMemoryStore(items []Tutor) *MemoryStore {
	return &MemoryStore{items: append([]Tutor(nil), items...)}
}

// List returns the tutor catalog.
func (s *MemoryStore) List() []Tutor {
	return append([]Tutor(nil), s.items...)
}

// FindByID looks up a tutor by identifier.
func (s *MemoryStore) FindByID(id string) (Tutor, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Tutor{}, false
}

// DisplayName returns the tutor's name, or the raw id when it is unknown.
func DisplayName(s Store, id string) string {
	if t, ok := s.FindByID(id); ok {
		return t.Name
	}
	return id
}
