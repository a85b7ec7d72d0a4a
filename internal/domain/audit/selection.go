package audit

import "github.com/bigkaa/goartstore/purge-module/internal/domain/model"

// SelectionSet: множество id, отмеченных для удаления.
// Порядок при выдаче определяется порядком кандидатов.
type SelectionSet struct {
	members map[string]struct{}
}

// NewSelectionSet создаёт пустой выбор.
func NewSelectionSet() *SelectionSet {
	return &SelectionSet{members: make(map[string]struct{})}
}

// Contains проверяет, выбран ли id.
func (s *SelectionSet) Contains(id string) bool {
	_, ok := s.members[id]
	return ok
}

// Add добавляет id.
func (s *SelectionSet) Add(id string) {
	s.members[id] = struct{}{}
}

// Remove удаляет id.
func (s *SelectionSet) Remove(id string) {
	delete(s.members, id)
}

// Toggle инвертирует членство id. Возвращает новое состояние.
func (s *SelectionSet) Toggle(id string) bool {
	if s.Contains(id) {
		s.Remove(id)
		return false
	}
	s.Add(id)
	return true
}

// Clear очищает выбор.
func (s *SelectionSet) Clear() {
	s.members = make(map[string]struct{})
}

// Len: количество выбранных id.
func (s *SelectionSet) Len() int {
	return len(s.members)
}

// Ordered возвращает выбранные id в порядке кандидатов.
// id, которых нет среди кандидатов, не возвращаются.
func (s *SelectionSet) Ordered(candidates []model.CleanupCandidate) []string {
	out := make([]string, 0, len(s.members))
	for i := range candidates {
		if s.Contains(candidates[i].ID) {
			out = append(out, candidates[i].ID)
		}
	}
	return out
}
