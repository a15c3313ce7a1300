// Package session owns the socket lifecycle and turns inbound frames
// into store mutations. One Session means one authenticated connection
// to the chat server at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/rexlx/drizzle/internal"
	"github.com/rexlx/drizzle/internal/store"
	"github.com/rexlx/drizzle/internal/token"
)

// ErrNoCredential means Connect was called without a token. Nothing is
// dialed; the caller decides whether to prompt for a login.
var ErrNoCredential = errors.New("no credential set")

// Notifier receives the session's side effects. Sound fires when a
// frame arrives while the consumer is backgrounded; Notify carries
// user-visible text (new message, connection closed).
type Notifier interface {
	Sound()
	Notify(text string)
}

// NopNotifier swallows everything. It is the default.
type NopNotifier struct{}

func (NopNotifier) Sound()        {}
func (NopNotifier) Notify(string) {}

// State of the connection lifecycle.
type State int

const (
	Disconnected State = iota
	Authenticating
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Authenticating:
		return "authenticating"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Session is the connection manager. Connect, Send and Disconnect may
// be called from any goroutine; all frame handling runs on a single
// read loop so store mutations happen in arrival order.
type Session struct {
	Store    *store.Store
	Token    *token.Holder
	Notifier Notifier
	Logger   *log.Logger

	// Background reports whether the consumer is currently hidden.
	// Every frame that arrives while it returns true chirps the
	// notifier, whatever the frame contains.
	Background func() bool

	// now is the dispatcher's clock, epoch milliseconds.
	now func() int64

	mu    sync.Mutex
	conn  *websocket.Conn
	gen   int
	state State
	done  chan struct{}

	wmu sync.Mutex // serializes socket writes
}

// New wires a Session around the given store and token holder. A nil
// logger falls back to log.Default.
func New(st *store.Store, tok *token.Holder, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.Default()
	}
	return &Session{
		Store:    st,
		Token:    tok,
		Notifier: NopNotifier{},
		Logger:   logger,
		now:      internal.Now,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done returns a channel closed when the current transport goes away.
// With no transport it is already closed.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// Connect opens a new transport to url and runs the handshake: the raw
// token goes out as the very first frame, then a CheckTime action to
// pull the current attendance status. Any previous transport is torn
// down first and its pending frames are never dispatched.
//
// The session is marked Connected as soon as the handshake frames are
// written, before the server has actually validated the token. A server
// that accepts the socket and never answers leaves the session
// Connected until its close frame arrives.
func (s *Session) Connect(ctx context.Context, url string) error {
	raw := s.Token.Get()
	if raw == "" {
		s.Logger.Println("connect skipped: no credential")
		return ErrNoCredential
	}

	s.mu.Lock()
	s.teardownLocked()
	s.gen++
	gen := s.gen
	s.state = Authenticating
	s.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		s.abandon(gen)
		return fmt.Errorf("dial %s: %w", url, err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		conn.Close()
		s.abandon(gen)
		return fmt.Errorf("handshake: %w", err)
	}

	frame, err := internal.EncodeFrame(internal.ActionCheckTime, nil)
	if err == nil {
		err = conn.WriteMessage(websocket.TextMessage, frame)
	}
	if err != nil {
		conn.Close()
		s.abandon(gen)
		return fmt.Errorf("check time: %w", err)
	}

	done := make(chan struct{})
	s.mu.Lock()
	if s.gen != gen {
		// A newer Connect or Disconnect won the race while we were
		// dialing. This transport is already obsolete.
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	s.conn = conn
	s.done = done
	s.state = Connected
	s.mu.Unlock()

	go s.readLoop(conn, gen, done)
	return nil
}

// Disconnect tears the transport down and returns the session to
// Disconnected. Safe to call at any time.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.teardownLocked()
	s.gen++
	s.state = Disconnected
	s.mu.Unlock()
}

// Send encodes an action frame and writes it to the live transport.
// With no transport it logs a warning and drops the payload; there is
// no outbound queue, so early sends are lost by design.
func (s *Session) Send(action string, data any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		s.Logger.Printf("send %s dropped: no live transport", action)
		return nil
	}

	frame, err := internal.EncodeFrame(action, data)
	if err != nil {
		return err
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send %s: %w", action, err)
	}
	return nil
}

// Say sends a chat message to a room, stamped with the token identity
// and the current time.
func (s *Session) Say(room, content string) error {
	sender, err := s.Token.Identity()
	if err != nil {
		s.Logger.Println("sending without identity:", err)
	}
	return s.Send(internal.ActionMessage, internal.Message{
		Sender:    sender,
		Room:      room,
		Content:   content,
		Timestamp: s.clock(),
	})
}

// Join asks the server to add this user to a room.
func (s *Session) Join(room string) error {
	id, _ := s.Token.Identity()
	return s.Send(internal.ActionEgress, internal.Egress{
		Room:   room,
		User:   id,
		Action: internal.EgressJoin,
	})
}

// Leave asks the server to remove this user from a room.
func (s *Session) Leave(room string) error {
	id, _ := s.Token.Identity()
	return s.Send(internal.ActionEgress, internal.Egress{
		Room:   room,
		User:   id,
		Action: internal.EgressLeave,
	})
}

// TimeIn punches the clock in, with an optional note.
func (s *Session) TimeIn(note string) error {
	return s.Send(internal.ActionTiming, internal.Timing{Action: internal.TimeIn, Note: note})
}

// TimeOut punches the clock out.
func (s *Session) TimeOut(note string) error {
	return s.Send(internal.ActionTiming, internal.Timing{Action: internal.TimeOut, Note: note})
}

// CheckTime asks the server to re-assert the attendance status.
func (s *Session) CheckTime() error {
	return s.Send(internal.ActionCheckTime, nil)
}

// teardownLocked closes the live transport, if any. Callers hold s.mu.
func (s *Session) teardownLocked() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// abandon resets the state after a failed connect attempt, unless a
// newer generation took over in the meantime.
func (s *Session) abandon(gen int) {
	s.mu.Lock()
	if s.gen == gen {
		s.state = Disconnected
	}
	s.mu.Unlock()
}

func (s *Session) stale(gen int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen != gen
}

func (s *Session) clock() int64 {
	if s.now != nil {
		return s.now()
	}
	return internal.Now()
}

// readLoop pumps frames off one transport until it dies. Frames are
// handled strictly in arrival order; a frame's store mutations are
// visible before the next frame is read. If the transport has been
// superseded, nothing is dispatched.
func (s *Session) readLoop(conn *websocket.Conn, gen int, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			current := s.gen == gen
			if current {
				s.conn = nil
				s.state = Closed
			}
			s.mu.Unlock()
			if current {
				s.Logger.Println("transport closed:", err)
				s.Notifier.Notify("connection closed")
			}
			return
		}

		if s.stale(gen) {
			return
		}

		// The idle chirp fires per frame, before we even know whether
		// the frame parses.
		if s.Background != nil && s.Background() {
			s.Notifier.Sound()
		}

		payload, err := internal.DecodeFrame(data)
		if err != nil {
			s.Logger.Println("dropping frame:", err)
			continue
		}
		s.dispatch(payload)
	}
}
