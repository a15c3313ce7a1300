package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/rexlx/drizzle/internal"
	"github.com/rexlx/drizzle/internal/session"
	"github.com/rexlx/drizzle/internal/store"
	"github.com/rexlx/drizzle/internal/token"
)

type Config struct {
	Server    string `env:"DRIZZLE_SERVER" envDefault:"http://localhost:8000"`
	Socket    string `env:"DRIZZLE_SOCKET" envDefault:"ws://localhost:8000/chat/connect"`
	Name      string `env:"DRIZZLE_NAME"`
	Password  string `env:"DRIZZLE_PASSWORD"`
	TokenFile string `env:"DRIZZLE_TOKEN_FILE" envDefault:".drizzle-token"`
	Redial    bool   `env:"DRIZZLE_REDIAL" envDefault:"true"`
}

func main() {
	logger := log.New(os.Stderr, "drizzle ", log.LstdFlags)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		logger.Fatal("bad configuration: ", err)
	}

	keeper := FileKeeper{Path: cfg.TokenFile}
	holder := token.NewHolder("")
	if saved, err := keeper.Load(); err == nil && saved != "" {
		holder.Set(saved)
	}

	// A saved token past its expiry is worthless; log in again.
	if exp, err := holder.ExpiresAt(); err != nil || (!exp.IsZero() && exp.Before(time.Now())) {
		holder.Clear()
	}

	api := session.NewAPIClient(cfg.Server, logger)
	if holder.Get() == "" {
		if cfg.Name == "" || cfg.Password == "" {
			logger.Fatal("no saved token; set DRIZZLE_NAME and DRIZZLE_PASSWORD to log in")
		}
		tok, err := api.Login(context.Background(), cfg.Name, cfg.Password)
		if err != nil {
			logger.Fatal("login failed: ", err)
		}
		holder.Set(tok)
		if err := keeper.Save(tok); err != nil {
			logger.Println("could not save token:", err)
		}
	}

	name, err := holder.Identity()
	if err != nil {
		logger.Fatal("unusable token: ", err)
	}
	fmt.Printf("logged in as %s\n", name)

	st := store.New(logger)
	sess := session.New(st, holder, logger)
	sess.Notifier = Terminal{}

	cancel := st.Subscribe(func(e store.Event) {
		switch e.Kind {
		case store.KindMessage:
			if e.Room != st.Selected() {
				return
			}
			msgs := st.Messages(e.Room)
			m := msgs[len(msgs)-1]
			when := time.UnixMilli(m.Timestamp).Format("15:04:05")
			fmt.Printf("[%s] %s %s: %s\n", e.Room, when, m.SenderName(), m.Content)
		case store.KindRoster:
			fmt.Printf("members: %s\n", strings.Join(st.Roster(), ", "))
		case store.KindTiming:
			fmt.Printf("timed in: %v\n", st.TimedIn())
		}
	})
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if cfg.Redial {
		go func() {
			if err := session.NewRedialer(sess, cfg.Socket).Run(ctx); err != nil {
				logger.Println("redialer stopped:", err)
			}
		}()
	} else if err := sess.Connect(ctx, cfg.Socket); err != nil {
		logger.Fatal("connect failed: ", err)
	}

	repl(ctx, sess, st, api, holder, logger)
	sess.Disconnect()
}

// repl reads commands from stdin until EOF. Anything that is not a
// command goes to the selected room as a message.
func repl(ctx context.Context, sess *session.Session, st *store.Store, api *session.APIClient, holder *token.Holder, logger *log.Logger) {
	fmt.Println("commands: /join /leave /select /rooms /who /timein /timeout /status /quit")
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)

		var err error
		switch cmd {
		case "/quit":
			return
		case "/join":
			err = sess.Join(arg)
			if err == nil {
				st.Select(arg)
			}
		case "/leave":
			err = sess.Leave(arg)
		case "/select":
			st.Select(arg)
			for _, m := range st.Messages(arg) {
				when := time.UnixMilli(m.Timestamp).Format("15:04:05")
				fmt.Printf("[%s] %s %s: %s\n", arg, when, m.SenderName(), m.Content)
			}
		case "/rooms":
			var rooms []string
			rooms, err = api.Rooms(ctx, holder.Get())
			if err == nil {
				fmt.Printf("rooms: %s\n", strings.Join(rooms, ", "))
			}
		case "/who":
			fmt.Printf("members: %s\n", strings.Join(st.Roster(), ", "))
		case "/timein":
			err = sess.TimeIn(arg)
		case "/timeout":
			err = sess.TimeOut(arg)
		case "/status":
			fmt.Printf("%s, timed in: %v\n", sess.State(), st.TimedIn())
		default:
			room := st.Selected()
			if room == "" {
				fmt.Println("no room selected; /join one first")
				continue
			}
			err = sess.Say(room, line)
			if err == nil {
				// Local echo; the server does not loop our own
				// messages back.
				st.AppendMessage(room, internal.Message{
					Sender:    mustIdentity(holder),
					Room:      room,
					Content:   line,
					Timestamp: internal.Now(),
				})
			}
		}
		if err != nil {
			logger.Println(cmd, "failed:", err)
		}
	}
}

func mustIdentity(holder *token.Holder) string {
	name, _ := holder.Identity()
	return name
}
