package reconcile

import (
	"sync"

	"github.com/raphaelgruber/switchboard/internal/models"
)

// View is the ordered message list of one conversation. All methods are
// safe for concurrent use.
type View struct {
	mu             sync.Mutex
	conversationID string
	messages       []models.Message
	// local holds ids this view inserted or saved that have not yet been
	// seen in a fetched history.
	local map[string]bool
}

// NewView creates an empty view.
func NewView(conversationID string) *View {
	return &View{conversationID: conversationID, local: make(map[string]bool)}
}

// ConversationID returns the conversation the view belongs to.
func (v *View) ConversationID() string {
	return v.conversationID
}

// Messages returns a copy of the current ordered list.
func (v *View) Messages() []models.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]models.Message, len(v.messages))
	for i, m := range v.messages {
		out[i] = m.Clone()
	}
	return out
}

// Get returns the message with id.
func (v *View) Get(id string) (models.Message, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if i := v.indexOf(id); i >= 0 {
		return v.messages[i].Clone(), true
	}
	return models.Message{}, false
}

// AppendOptimistic appends records that are not yet persisted. Records whose
// id is already present are ignored.
func (v *View) AppendOptimistic(msgs ...models.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, m := range msgs {
		if v.indexOf(m.ID) >= 0 {
			continue
		}
		v.messages = append(v.messages, m)
		v.local[m.ID] = true
	}
}

// Update mutates the message with id in place. It reports whether the
// message was found.
func (v *View) Update(id string, fn func(*models.Message)) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	i := v.indexOf(id)
	if i < 0 {
		return false
	}
	fn(&v.messages[i])
	v.messages[i].ID = id
	return true
}

// AppendText appends a streamed chunk to the message with id.
func (v *View) AppendText(id, chunk string) bool {
	return v.Update(id, func(m *models.Message) {
		m.Text += chunk
		m.Status = models.StatusStreaming
	})
}

// Replace swaps the record with id for msg, keeping its position. If msg's
// id is already present elsewhere (a history fetch landed first) the old
// record is removed instead. It reports whether id was found.
func (v *View) Replace(id string, msg models.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	i := v.indexOf(id)
	if i < 0 {
		return false
	}
	delete(v.local, id)

	if msg.ID != id {
		if j := v.indexOf(msg.ID); j >= 0 {
			v.messages[j] = msg
			v.messages = append(v.messages[:i], v.messages[i+1:]...)
			return true
		}
	}
	v.messages[i] = msg
	v.local[msg.ID] = true
	return true
}

// ApplyHistory merges a fetched history into the view. Records created or
// saved through this view that the fetch does not contain yet stay after
// the history; everything else is replaced by the fetch.
func (v *View) ApplyHistory(history []models.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	fetched := make(map[string]bool, len(history))
	for _, m := range history {
		fetched[m.ID] = true
	}

	var pending []models.Message
	for _, m := range v.messages {
		if fetched[m.ID] {
			delete(v.local, m.ID)
			continue
		}
		if v.local[m.ID] {
			pending = append(pending, m)
		}
	}
	for id := range v.local {
		if fetched[id] {
			delete(v.local, id)
		}
	}

	v.messages = Merge(history, pending)
}

// Pending returns the ids of records not yet confirmed by a history fetch.
func (v *View) Pending() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	var ids []string
	for _, m := range v.messages {
		if v.local[m.ID] {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

func (v *View) indexOf(id string) int {
	for i := range v.messages {
		if v.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// Registry hands out one View per conversation.
type Registry struct {
	mu    sync.Mutex
	views map[string]*View
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{views: make(map[string]*View)}
}

// View returns the view for conversationID, creating it on first use.
func (r *Registry) View(conversationID string) *View {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.views[conversationID]
	if !ok {
		v = NewView(conversationID)
		r.views[conversationID] = v
	}
	return v
}
