package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/rexlx/drizzle/internal"
	"github.com/rexlx/drizzle/internal/store"
	"github.com/rexlx/drizzle/internal/token"
)

func testToken(name string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS512","typ":"JWT"}`))
	claims := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"name":%q,"exp":1999999999}`, name)))
	return header + "." + claims + ".sig"
}

// chatServer fakes the websocket side of the chat server. It records
// every frame each connection sends and can push frames back.
type chatServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  []*websocket.Conn
	frames [][]byte
}

func newChatServer(t *testing.T) *chatServer {
	cs := &chatServer{t: t}
	r := mux.NewRouter()
	r.HandleFunc("/chat/connect", cs.handle)
	cs.srv = httptest.NewServer(r)
	t.Cleanup(cs.srv.Close)
	return cs
}

func (cs *chatServer) url() string {
	return "ws" + strings.TrimPrefix(cs.srv.URL, "http") + "/chat/connect"
}

func (cs *chatServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := cs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	cs.mu.Lock()
	cs.conns = append(cs.conns, conn)
	cs.mu.Unlock()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		cs.mu.Lock()
		cs.frames = append(cs.frames, data)
		cs.mu.Unlock()
	}
}

func (cs *chatServer) connCount() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.conns)
}

func (cs *chatServer) frameCount() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.frames)
}

func (cs *chatServer) frame(i int) []byte {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.frames[i]
}

// push writes a raw frame to connection i. Errors are ignored; a closed
// connection simply cannot deliver.
func (cs *chatServer) push(i int, frame []byte) {
	cs.mu.Lock()
	conn := cs.conns[i]
	cs.mu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, frame)
}

func (cs *chatServer) closeConn(i int) {
	cs.mu.Lock()
	conn := cs.conns[i]
	cs.mu.Unlock()
	conn.Close()
}

func (cs *chatServer) pushAction(t *testing.T, i int, action string, data any) {
	t.Helper()
	frame, err := internal.EncodeFrame(action, data)
	if err != nil {
		t.Fatalf("encode %s: %v", action, err)
	}
	cs.push(i, frame)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newLiveSession(t *testing.T, cs *chatServer) (*Session, *store.Store, *recorder) {
	st := store.New(quiet())
	s := New(st, token.NewHolder(testToken("alice")), quiet())
	rec := &recorder{}
	s.Notifier = rec
	if err := s.Connect(context.Background(), cs.url()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(s.Disconnect)
	return s, st, rec
}

func TestConnectHandshake(t *testing.T) {
	cs := newChatServer(t)
	s, _, _ := newLiveSession(t, cs)

	waitFor(t, "handshake frames", func() bool { return cs.frameCount() >= 2 })

	// First frame is the raw token, not a structured payload.
	if got := string(cs.frame(0)); got != testToken("alice") {
		t.Errorf("first frame = %q, want the raw token", got)
	}
	// Second frame asks for the attendance status.
	p, err := internal.DecodeFrame(cs.frame(1))
	if err != nil || p.Action != internal.ActionCheckTime {
		t.Errorf("second frame = %s (err %v), want CheckTime", cs.frame(1), err)
	}
	if s.State() != Connected {
		t.Errorf("state = %s, want connected", s.State())
	}
}

func TestConnectWithoutToken(t *testing.T) {
	st := store.New(quiet())
	s := New(st, token.NewHolder(""), quiet())

	err := s.Connect(context.Background(), "ws://127.0.0.1:1/chat/connect")
	if !errors.Is(err, ErrNoCredential) {
		t.Fatalf("err = %v, want ErrNoCredential", err)
	}
	if s.State() != Disconnected {
		t.Errorf("state = %s, want disconnected", s.State())
	}
}

func TestSendWithoutTransport(t *testing.T) {
	st := store.New(quiet())
	s := New(st, token.NewHolder(testToken("alice")), quiet())

	if err := s.Say("general", "hello?"); err != nil {
		t.Fatalf("Say with no transport should be a quiet no-op, got %v", err)
	}
	if err := s.Send(internal.ActionCheckTime, nil); err != nil {
		t.Fatalf("Send with no transport should be a quiet no-op, got %v", err)
	}
	if rooms := st.Rooms(); len(rooms) != 0 {
		t.Errorf("send without transport mutated the store: %v", rooms)
	}
}

func TestInboundArrivalOrder(t *testing.T) {
	cs := newChatServer(t)
	_, st, _ := newLiveSession(t, cs)

	stamps := []int64{3000, 1000, 2000}
	for _, ts := range stamps {
		cs.pushAction(t, 0, internal.ActionMessage, internal.Message{
			Sender: "bob", Room: "general", Content: "x", Timestamp: ts,
		})
	}

	waitFor(t, "three messages", func() bool { return len(st.Messages("general")) == 3 })
	for i, m := range st.Messages("general") {
		if m.Timestamp != stamps[i] {
			t.Errorf("message %d timestamp = %d, want %d (arrival order)", i, m.Timestamp, stamps[i])
		}
	}
}

func TestBadFrameDropped(t *testing.T) {
	cs := newChatServer(t)
	_, st, _ := newLiveSession(t, cs)

	cs.push(0, []byte("this is not a payload"))
	cs.pushAction(t, 0, internal.ActionMessage, internal.Message{
		Sender: "bob", Room: "general", Content: "still here", Timestamp: internal.Now(),
	})

	// The bad frame is dropped; the next one still lands.
	waitFor(t, "message after bad frame", func() bool { return len(st.Messages("general")) == 1 })
}

func TestBackgroundSoundPerFrame(t *testing.T) {
	cs := newChatServer(t)
	st := store.New(quiet())
	s := New(st, token.NewHolder(testToken("alice")), quiet())
	rec := &recorder{}
	s.Notifier = rec
	s.Background = func() bool { return true }
	if err := s.Connect(context.Background(), cs.url()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(s.Disconnect)

	// One junk frame, one valid frame: the chirp fires for both.
	cs.push(0, []byte("garbage"))
	cs.pushAction(t, 0, internal.ActionMessage, internal.Message{
		Sender: "bob", Room: "general", Content: "hi", Timestamp: internal.Now(),
	})

	waitFor(t, "message stored", func() bool { return len(st.Messages("general")) == 1 })
	if got := rec.soundCount(); got != 2 {
		t.Errorf("sound fired %d times, want 2 (once per frame, validity aside)", got)
	}
}

func TestTransportClose(t *testing.T) {
	cs := newChatServer(t)
	s, _, rec := newLiveSession(t, cs)

	cs.closeConn(0)

	waitFor(t, "closed state", func() bool { return s.State() == Closed })
	waitFor(t, "close notice", func() bool {
		for _, n := range rec.notices() {
			if strings.Contains(n, "connection closed") {
				return true
			}
		}
		return false
	})
}

func TestReconnectNoDoubleDispatch(t *testing.T) {
	cs := newChatServer(t)
	s, st, rec := newLiveSession(t, cs)
	waitFor(t, "first connection", func() bool { return cs.connCount() == 1 })

	if err := s.Connect(context.Background(), cs.url()); err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}
	waitFor(t, "second connection", func() bool { return cs.connCount() == 2 })

	// A frame on the stale connection must never reach the store; one
	// on the live connection lands exactly once.
	cs.pushAction(t, 0, internal.ActionMessage, internal.Message{
		Sender: "ghost", Room: "general", Content: "stale", Timestamp: internal.Now(),
	})
	cs.pushAction(t, 1, internal.ActionMessage, internal.Message{
		Sender: "bob", Room: "general", Content: "live", Timestamp: internal.Now(),
	})

	waitFor(t, "live message", func() bool { return len(st.Messages("general")) >= 1 })
	time.Sleep(100 * time.Millisecond)

	got := st.Messages("general")
	if len(got) != 1 {
		t.Fatalf("stored %d messages, want exactly 1", len(got))
	}
	if got[0].Sender != "bob" {
		t.Errorf("stored message from %q, want the live connection's", got[0].Sender)
	}
	if s.State() != Connected {
		t.Errorf("state = %s, want connected after replacement", s.State())
	}
	// Tearing down the stale transport is not a user-visible close.
	for _, n := range rec.notices() {
		if strings.Contains(n, "connection closed") {
			t.Errorf("replacement produced a close notice: %v", rec.notices())
		}
	}
}

func TestDisconnect(t *testing.T) {
	cs := newChatServer(t)
	s, _, _ := newLiveSession(t, cs)

	s.Disconnect()
	if s.State() != Disconnected {
		t.Errorf("state = %s, want disconnected", s.State())
	}
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Error("Done not closed after Disconnect")
	}
}

func TestOutboundActions(t *testing.T) {
	cs := newChatServer(t)
	s, _, _ := newLiveSession(t, cs)
	waitFor(t, "handshake frames", func() bool { return cs.frameCount() >= 2 })
	base := cs.frameCount()

	if err := s.Join("ops"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if err := s.TimeIn("morning"); err != nil {
		t.Fatalf("TimeIn failed: %v", err)
	}
	if err := s.Say("ops", "hello"); err != nil {
		t.Fatalf("Say failed: %v", err)
	}

	waitFor(t, "three outbound frames", func() bool { return cs.frameCount() >= base+3 })

	p, err := internal.DecodeFrame(cs.frame(base))
	if err != nil || p.Action != internal.ActionEgress {
		t.Errorf("frame %d = %s, want Egress", base, cs.frame(base))
	}
	p, err = internal.DecodeFrame(cs.frame(base + 1))
	if err != nil || p.Action != internal.ActionTiming {
		t.Errorf("frame %d = %s, want TimingAction", base+1, cs.frame(base+1))
	}
	p, err = internal.DecodeFrame(cs.frame(base + 2))
	if err != nil || p.Action != internal.ActionMessage {
		t.Errorf("frame %d = %s, want Message", base+2, cs.frame(base+2))
	}
}
