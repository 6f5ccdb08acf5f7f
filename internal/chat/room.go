package chat

import (
	"context"
	"errors"
	"hash/fnv"
	"log"
	"sort"
	"sync"
)

const (
	// DefaultMailboxCapacity is the number of messages a connection may have
	// pending before broadcasters wait on it.
	DefaultMailboxCapacity = 128

	shardCount = 16
)

// ErrAlreadyRegistered reports a second registration for a live connection id.
var ErrAlreadyRegistered = errors.New("connection already registered")

// Option configures a Room.
type Option func(*Room)

// WithLogger sets the logger used for room events.
func WithLogger(logger *log.Logger) Option {
	return func(r *Room) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMailboxCapacity overrides DefaultMailboxCapacity.
func WithMailboxCapacity(n int) Option {
	return func(r *Room) {
		if n > 0 {
			r.capacity = n
		}
	}
}

type entry struct {
	id       string
	username string
	mailbox  *Mailbox
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// Room is the registry of live connections and the broadcast fan-out engine.
// Entries are striped across shards by connection id; usernames are claimed
// atomically so two connections can never hold the same name.
type Room struct {
	shards [shardCount]shard
	names  sync.Map // username -> connection id

	capacity int
	logger   *log.Logger
}

// NewRoom constructs an empty chat room.
func NewRoom(opts ...Option) *Room {
	r := &Room{
		capacity: DefaultMailboxCapacity,
		logger:   log.Default(),
	}
	for i := range r.shards {
		r.shards[i].entries = make(map[string]*entry)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Room) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &r.shards[h.Sum32()%shardCount]
}

// Register adds connection id under username and returns the mailbox its
// relay must drain. The username is validated and claimed before anything is
// inserted, so a failed registration leaves the room unchanged.
func (r *Room) Register(id, username string) (*Mailbox, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if _, taken := r.names.LoadOrStore(username, id); taken {
		return nil, ErrUsernameTaken
	}

	sh := r.shardFor(id)
	sh.mu.Lock()
	if _, exists := sh.entries[id]; exists {
		sh.mu.Unlock()
		r.names.CompareAndDelete(username, id)
		return nil, ErrAlreadyRegistered
	}
	e := &entry{id: id, username: username, mailbox: newMailbox(r.capacity)}
	sh.entries[id] = e
	sh.mu.Unlock()

	return e.mailbox, nil
}

// Unregister removes id from the room and closes its mailbox. It reports
// whether an entry was removed; unknown ids are ignored.
func (r *Room) Unregister(id string) bool {
	return r.remove(id, nil)
}

// remove deletes id's entry. When want is set the entry is only removed if it
// is still that exact entry.
func (r *Room) remove(id string, want *entry) bool {
	sh := r.shardFor(id)
	sh.mu.Lock()
	e, ok := sh.entries[id]
	if ok && (want == nil || e == want) {
		delete(sh.entries, id)
	} else {
		ok = false
	}
	sh.mu.Unlock()

	if !ok {
		return false
	}
	r.names.CompareAndDelete(e.username, e.id)
	e.mailbox.Close()
	return true
}

// Broadcast enqueues msg into every registered mailbox except origin's and
// returns how many mailboxes accepted it. Targets are visited one at a time;
// a full mailbox makes the broadcaster wait, while a closed one is evicted
// and skipped. Cancelling ctx abandons the remaining targets.
func (r *Room) Broadcast(ctx context.Context, origin string, msg *Message) int {
	delivered := 0
	for _, e := range r.snapshot(origin) {
		err := e.mailbox.send(ctx, msg)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrMailboxClosed):
			if r.remove(e.id, e) {
				r.logger.Printf("chat: evicted %s (%s): %v", e.username, e.id, err)
			}
		default:
			return delivered
		}
	}
	return delivered
}

func (r *Room) snapshot(except string) []*entry {
	var out []*entry
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		for id, e := range sh.entries {
			if id != except {
				out = append(out, e)
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// IsUsernameTaken reports whether a registered connection holds username.
func (r *Room) IsUsernameTaken(username string) bool {
	_, ok := r.names.Load(username)
	return ok
}

// Count returns the number of registered connections.
func (r *Room) Count() int {
	n := 0
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

// Usernames returns the sorted names of all registered connections.
func (r *Room) Usernames() []string {
	var names []string
	for _, e := range r.snapshot("") {
		names = append(names, e.username)
	}
	sort.Strings(names)
	return names
}
