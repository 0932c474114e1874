package session

import (
	"sync"
	"time"
)

// Draft is unsent compose-box text for one conversation. Drafts never leave
// the process; a new session starts empty.
type Draft struct {
	Text    string
	SavedAt time.Time
}

type draftCache struct {
	mu     sync.RWMutex
	drafts map[string]Draft
}

func newDraftCache() *draftCache {
	return &draftCache{drafts: make(map[string]Draft)}
}

func (d *draftCache) save(convID, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if text == "" {
		delete(d.drafts, convID)
		return
	}
	d.drafts[convID] = Draft{Text: text, SavedAt: time.Now()}
}

func (d *draftCache) get(convID string) (Draft, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	draft, ok := d.drafts[convID]
	return draft, ok
}

func (d *draftCache) clear(convID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.drafts, convID)
}
