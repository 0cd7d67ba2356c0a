package document

// PendingSet collects the actions of one transaction or one re-index batch.
// A later Put for the same key replaces the earlier action.
type PendingSet struct {
	actions map[Key]Action
}

func NewPendingSet() *PendingSet {
	return &PendingSet{actions: make(map[Key]Action)}
}

// Put stores a, replacing any action with the same key.
func (s *PendingSet) Put(a Action) {
	s.actions[a.Key] = a
}

// Get returns the action stored under key.
func (s *PendingSet) Get(key Key) (Action, bool) {
	if s == nil {
		return Action{}, false
	}
	a, ok := s.actions[key]
	return a, ok
}

func (s *PendingSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.actions)
}

// Actions returns the stored actions in no particular order.
func (s *PendingSet) Actions() []Action {
	if s == nil || len(s.actions) == 0 {
		return nil
	}
	out := make([]Action, 0, len(s.actions))
	for _, a := range s.actions {
		out = append(out, a)
	}
	return out
}

// Reset empties the set.
func (s *PendingSet) Reset() {
	clear(s.actions)
}

// Counts returns the number of upserts and deletes in the set.
func (s *PendingSet) Counts() (upserts, deletes int) {
	if s == nil {
		return 0, 0
	}
	for _, a := range s.actions {
		if a.Op == OpDelete {
			deletes++
		} else {
			upserts++
		}
	}
	return upserts, deletes
}
