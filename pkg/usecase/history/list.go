package history

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/veoclip/pkg/model"
)

var ErrEntryNotFound = goerr.New("history entry not found")

// List returns the in-memory collection, newest first
func (s *Store) List() []*model.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Get returns the entry with id
func (s *Store) Get(id model.HistoryID) (*model.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, goerr.Wrap(ErrEntryNotFound, "failed to get history entry", goerr.V("id", id))
}
