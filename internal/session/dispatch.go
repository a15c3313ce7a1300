package session

import (
	"encoding/json"
	"fmt"

	"github.com/rexlx/drizzle/internal"
)

// freshWindow is how recent a message must be, in milliseconds, to be
// worth a notification. Anything older is treated as backfill and
// stored silently.
const freshWindow = 60_000

// dispatch maps one decoded payload to a store mutation plus optional
// notification. Per-frame failures are contained here: a bad payload is
// logged and skipped, never escalated.
func (s *Session) dispatch(p internal.Payload) {
	switch p.Action {
	case internal.ActionMessage:
		var msg internal.Message
		if err := json.Unmarshal(p.Data, &msg); err != nil || msg.Room == "" {
			s.Logger.Println("ignoring malformed Message event")
			return
		}
		s.Store.AppendMessage(msg.Room, msg)
		if msg.Room != s.Store.Selected() && s.clock()-msg.Timestamp < freshWindow {
			s.Notifier.Notify(fmt.Sprintf("new message from %s in %s", msg.SenderName(), msg.Room))
		}

	case internal.ActionAdded:
		var add internal.Added
		if err := json.Unmarshal(p.Data, &add); err != nil || add.Room == "" {
			s.Logger.Println("ignoring malformed Added event")
			return
		}
		content := add.Added + " joined the room"
		if add.Adder != "" {
			content = fmt.Sprintf("%s added %s to the room", add.Adder, add.Added)
		}
		// System message: no sender.
		s.Store.AppendMessage(add.Room, internal.Message{
			Room:      add.Room,
			Content:   content,
			Timestamp: add.Timestamp,
		})
		if add.Room != s.Store.Selected() {
			s.Notifier.Notify(fmt.Sprintf("%s joined %s", add.Added, add.Room))
		}
		// Added ends here. It never touches the roster; only a List
		// event replaces it.

	case internal.ActionList:
		var users []string
		if err := json.Unmarshal(p.Data, &users); err != nil {
			s.Logger.Println("ignoring malformed List event")
			return
		}
		s.Store.ReplaceRoster(users)

	case internal.ActionTimedIn:
		var in bool
		if len(p.Data) > 0 {
			if err := json.Unmarshal(p.Data, &in); err != nil {
				in = false
			}
		}
		s.Store.SetTimedIn(in)

	default:
		// Unknown actions are forward-compatible no-ops.
		s.Logger.Println("ignoring unknown action:", p.Action)
	}
}
