package chat

import "sync"

// Selection holds the checked document ids. It is reset when the view goes away.
type Selection struct {
	mu    sync.Mutex
	order []string
	set   map[string]struct{}
}

func NewSelection(ids ...string) *Selection {
	s := &Selection{set: make(map[string]struct{})}
	for _, id := range ids {
		s.Toggle(id)
	}
	return s
}

// Toggle checks id if unchecked and unchecks it otherwise. It reports the new state.
func (s *Selection) Toggle(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.set[id]; ok {
		delete(s.set, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		return false
	}
	s.set[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

// Selected lists checked ids in the order they were checked.
func (s *Selection) Selected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

func (s *Selection) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.set = make(map[string]struct{})
}
