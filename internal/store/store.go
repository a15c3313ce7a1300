// Package store keeps the client's view of the chat world: per-room
// message logs, the roster of the selected room, and the timed-in flag.
// Consumers observe changes through Subscribe rather than polling.
package store

import (
	"log"
	"sync"

	"github.com/rexlx/drizzle/internal"
)

// EventKind says which part of the store a published Event touched.
type EventKind int

const (
	KindMessage EventKind = iota
	KindRoster
	KindTiming
	KindSelection
)

// Event is pushed to subscribers after every mutation. Room is set for
// message events only; subscribers read the new state back through the
// accessors.
type Event struct {
	Kind EventKind
	Room string
}

// Store owns all session-scoped chat state. All mutations are
// synchronous: subscribers have been called before the mutating method
// returns.
type Store struct {
	mu       sync.RWMutex
	logs     map[string][]internal.Message
	roster   []string
	timedIn  bool
	selected string

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int

	Logger *log.Logger
}

// New returns an empty Store. A nil logger falls back to log.Default.
func New(logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		logs:   make(map[string][]internal.Message),
		subs:   make(map[int]func(Event)),
		Logger: logger,
	}
}

// Subscribe registers an observer and returns its cancel function.
// Observers run on the mutating goroutine; keep them quick.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) publish(e Event) {
	s.subMu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}

// AppendMessage pushes a message onto the room's log, creating the log
// on first use. Logs are append-only and kept in arrival order, not
// timestamp order.
func (s *Store) AppendMessage(room string, msg internal.Message) {
	s.mu.Lock()
	if _, ok := s.logs[room]; !ok {
		s.Logger.Printf("opening log for room %s", room)
	}
	s.logs[room] = append(s.logs[room], msg)
	s.mu.Unlock()
	s.publish(Event{Kind: KindMessage, Room: room})
}

// Messages returns a copy of the room's log. Unknown rooms yield nil.
func (s *Store) Messages(room string) []internal.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.logs[room]
	if msgs == nil {
		return nil
	}
	out := make([]internal.Message, len(msgs))
	copy(out, msgs)
	return out
}

// Rooms lists every room that has a log, in no particular order.
func (s *Store) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.logs))
	for room := range s.logs {
		out = append(out, room)
	}
	return out
}

// ReplaceRoster swaps the member list wholesale. Prior members not in
// the new list are gone.
func (s *Store) ReplaceRoster(users []string) {
	fresh := make([]string, len(users))
	copy(fresh, users)
	s.mu.Lock()
	s.roster = fresh
	s.mu.Unlock()
	s.publish(Event{Kind: KindRoster})
}

// Roster returns a copy of the current member list.
func (s *Store) Roster() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.roster))
	copy(out, s.roster)
	return out
}

// SetTimedIn overwrites the server-asserted attendance flag.
func (s *Store) SetTimedIn(in bool) {
	s.mu.Lock()
	s.timedIn = in
	s.mu.Unlock()
	s.publish(Event{Kind: KindTiming})
}

// TimedIn reports the last attendance status the server asserted.
func (s *Store) TimedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timedIn
}

// Select points the store at the room the consumer is looking at.
// Selection only gates notifications; messages for other rooms are
// stored all the same.
func (s *Store) Select(room string) {
	s.mu.Lock()
	s.selected = room
	s.mu.Unlock()
	s.publish(Event{Kind: KindSelection, Room: room})
}

// Selected returns the currently selected room, or "".
func (s *Store) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}
