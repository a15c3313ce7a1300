package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/rexlx/drizzle/internal/store"
	"github.com/rexlx/drizzle/internal/token"
)

func TestRedialerReconnects(t *testing.T) {
	cs := newChatServer(t)
	st := store.New(quiet())
	s := New(st, token.NewHolder(testToken("alice")), quiet())

	rd := NewRedialer(s, cs.url())
	rd.Limiter = rate.NewLimiter(rate.Inf, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- rd.Run(ctx) }()

	waitFor(t, "first connection", func() bool { return cs.connCount() == 1 })

	// Kill the transport; the redialer dials again on its own.
	cs.closeConn(0)
	waitFor(t, "second connection", func() bool { return cs.connCount() == 2 })
	waitFor(t, "connected again", func() bool { return s.State() == Connected })

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestRedialerNoCredential(t *testing.T) {
	cs := newChatServer(t)
	s := New(store.New(quiet()), token.NewHolder(""), quiet())

	rd := NewRedialer(s, cs.url())
	rd.Limiter = rate.NewLimiter(rate.Inf, 1)

	err := rd.Run(context.Background())
	if !errors.Is(err, ErrNoCredential) {
		t.Fatalf("Run returned %v, want ErrNoCredential", err)
	}
}
