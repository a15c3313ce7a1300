package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rexlx/drizzle/internal/session"
	"github.com/rexlx/drizzle/internal/token"
)

func main() {
	server := flag.String("server", "http://localhost:8000", "Server base URL")
	name := flag.String("name", "", "Account name")
	pass := flag.String("pass", "", "Account password")
	register := flag.Bool("register", false, "Create the account instead of logging in")
	out := flag.String("out", "", "Write the token to this file instead of stdout")

	flag.Parse()

	if *name == "" || *pass == "" {
		log.Fatal("Usage: accounts -server <url> -name <name> -pass <pass> [-register] [-out <file>]")
	}

	api := session.NewAPIClient(*server, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if *register {
		if found, err := api.CheckUser(ctx, *name); err == nil && found {
			log.Fatalf("Account %s already exists", *name)
		}
	}

	var (
		tok string
		err error
	)
	if *register {
		tok, err = api.Register(ctx, *name, *pass)
	} else {
		tok, err = api.Login(ctx, *name, *pass)
	}
	if err != nil {
		log.Fatalf("Credential request failed: %v", err)
	}

	holder := token.NewHolder(tok)
	id, err := holder.Identity()
	if err != nil {
		log.Fatalf("Server returned an unusable token: %v", err)
	}
	exp, _ := holder.ExpiresAt()
	fmt.Printf("Authenticated as %s (token expires %s)\n", id, exp.Format(time.RFC3339))

	if *out != "" {
		if err := os.WriteFile(*out, []byte(tok), 0o600); err != nil {
			log.Fatalf("Failed to write token: %v", err)
		}
		fmt.Println("Token written to", *out)
		return
	}
	fmt.Println(tok)
}
