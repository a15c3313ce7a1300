package session

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/time/rate"
)

// Redialer re-establishes a session's transport whenever it closes.
// The core never reconnects on its own; this wrapper is the opt-in
// policy around Connect and Disconnect, and it stays out of the frame
// path entirely.
type Redialer struct {
	Session *Session
	URL     string

	// Limiter paces connect attempts so a flapping server is not
	// hammered. The default allows one dial every five seconds.
	Limiter *rate.Limiter
	Logger  *log.Logger
}

// NewRedialer wraps a session with the default pacing.
func NewRedialer(s *Session, url string) *Redialer {
	return &Redialer{
		Session: s,
		URL:     url,
		Limiter: rate.NewLimiter(rate.Every(5*time.Second), 1),
		Logger:  s.Logger,
	}
}

// Run dials, waits for the transport to die, and dials again, until the
// context is canceled or the credential disappears. It returns the
// reason it stopped.
func (r *Redialer) Run(ctx context.Context) error {
	for {
		if err := r.Limiter.Wait(ctx); err != nil {
			return err
		}
		if err := r.Session.Connect(ctx, r.URL); err != nil {
			if errors.Is(err, ErrNoCredential) {
				return err
			}
			r.Logger.Println("redial failed:", err)
			continue
		}
		select {
		case <-ctx.Done():
			r.Session.Disconnect()
			return ctx.Err()
		case <-r.Session.Done():
		}
	}
}
