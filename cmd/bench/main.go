package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rexlx/drizzle/internal/session"
	"github.com/rexlx/drizzle/internal/store"
	"github.com/rexlx/drizzle/internal/token"
)

// Config
var (
	server = flag.String("server", "http://localhost:8000", "Server base URL")
	socket = flag.String("socket", "ws://localhost:8000/chat/connect", "Websocket URL")

	// Benchmark control
	numUsers = flag.Int("users", 50, "Concurrent users")
	numRooms = flag.Int("rooms", 10, "Rooms per user")
	msgRate  = flag.Int("rate", 1000, "Interval (ms) between messages per user")
	duration = flag.Duration("for", 60*time.Second, "How long to run")
)

// Stats Collection
type Stats struct {
	Sent   uint64
	Recv   uint64
	Errors uint64
}

var globalStats Stats

func main() {
	flag.Parse()
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	api := session.NewAPIClient(*server, nil)
	setupEnv(ctx, api)

	go runReporter(ctx)

	log.Printf("Launching %d bots...", *numUsers)
	var wg sync.WaitGroup
	wg.Add(*numUsers)

	for i := 0; i < *numUsers; i++ {
		go func(id int) {
			defer wg.Done()
			runBot(ctx, id, api)
		}(i)
		time.Sleep(20 * time.Millisecond)
	}
	wg.Wait()

	log.Printf("DONE: Sent %d | Recv %d | Errors %d",
		atomic.LoadUint64(&globalStats.Sent),
		atomic.LoadUint64(&globalStats.Recv),
		atomic.LoadUint64(&globalStats.Errors))
}

func runReporter(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sent := atomic.SwapUint64(&globalStats.Sent, 0)
			recv := atomic.SwapUint64(&globalStats.Recv, 0)
			errs := atomic.SwapUint64(&globalStats.Errors, 0)
			log.Printf("STATS [1s]: Sent: %d | Recv: %d | Errors: %d", sent, recv, errs)
		}
	}
}

func setupEnv(ctx context.Context, api *session.APIClient) {
	for i := 0; i < *numUsers; i++ {
		// Ignore errors in case users already exist
		_, _ = api.Register(ctx, botName(i), "password")
	}
}

func botName(id int) string {
	return fmt.Sprintf("bench_%d", id)
}

func runBot(ctx context.Context, id int, api *session.APIClient) {
	tok, err := api.Login(ctx, botName(id), "password")
	if err != nil {
		log.Printf("Bot %d login failed: %v", id, err)
		return
	}

	logger := log.New(io.Discard, "", 0)
	st := store.New(logger)
	st.Subscribe(func(e store.Event) {
		if e.Kind == store.KindMessage {
			atomic.AddUint64(&globalStats.Recv, 1)
		}
	})

	sess := session.New(st, token.NewHolder(tok), logger)
	if err := sess.Connect(ctx, *socket); err != nil {
		log.Printf("Bot %d connect failed: %v", id, err)
		return
	}
	defer sess.Disconnect()

	for r := 0; r < *numRooms; r++ {
		room := fmt.Sprintf("stress_room_%d", r)
		_ = api.CreateRoom(ctx, tok, room, botName(id))
		if err := sess.Join(room); err != nil {
			atomic.AddUint64(&globalStats.Errors, 1)
		}
	}

	// Stagger the bots so the ticks don't all land together
	time.Sleep(time.Duration(rand.Intn(1000)) * time.Millisecond)

	ticker := time.NewTicker(time.Duration(*msgRate) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			return
		case <-ticker.C:
			room := fmt.Sprintf("stress_room_%d", rand.Intn(*numRooms))
			if err := sess.Say(room, "ping"); err != nil {
				atomic.AddUint64(&globalStats.Errors, 1)
			} else {
				atomic.AddUint64(&globalStats.Sent, 1)
			}
		}
	}
}
