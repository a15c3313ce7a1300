package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rexlx/drizzle/internal/token"
)

// FileKeeper persists the raw token in a plain file, the terminal
// equivalent of the browser's session storage.
type FileKeeper struct {
	Path string
}

var _ token.Keeper = FileKeeper{}

func (k FileKeeper) Load() (string, error) {
	data, err := os.ReadFile(k.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (k FileKeeper) Save(token string) error {
	return os.WriteFile(k.Path, []byte(token), 0o600)
}

func (k FileKeeper) Drop() error {
	err := os.Remove(k.Path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Terminal is the notifier for a console consumer: a bell for the idle
// chirp, a marked line for toasts.
type Terminal struct{}

func (Terminal) Sound() {
	fmt.Print("\a")
}

func (Terminal) Notify(text string) {
	fmt.Printf("*** %s\n", text)
}
