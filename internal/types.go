package internal

import (
	"encoding/json"
	"time"
)

// Action tags the server and client exchange over the socket.
const (
	ActionMessage   = "Message"
	ActionAdded     = "Added"
	ActionList      = "List"
	ActionTimedIn   = "TimedIn"
	ActionCheckTime = "CheckTime"
	ActionEgress    = "Egress"
	ActionTiming    = "TimingAction"
)

// Payload is the envelope for every structured frame. Data stays raw
// until the action tag tells us what shape to expect.
type Payload struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Message is one chat line, both on the wire and in the room log.
// Timestamps are epoch milliseconds. A message with no sender came from
// the server itself.
type Message struct {
	Sender    string `json:"sender,omitempty"`
	Room      string `json:"room"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// SenderName returns the display name for the message author.
func (m Message) SenderName() string {
	if m.Sender == "" {
		return "Server"
	}
	return m.Sender
}

// Added announces that a user entered a room, either on their own or
// pulled in by someone else. Adder is empty for a self-join.
type Added struct {
	Room      string `json:"room"`
	Added     string `json:"added"`
	Adder     string `json:"adder,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Egress asks the server to move a user in or out of a room.
type Egress struct {
	Room   string `json:"room_id"`
	User   string `json:"user_id"`
	Action string `json:"action"`
}

const (
	EgressJoin  = "Join"
	EgressLeave = "Leave"
)

// Timing is a clock punch against the attendance sheet.
type Timing struct {
	Action string `json:"action"`
	Note   string `json:"note,omitempty"`
}

const (
	TimeIn  = "TimeIn"
	TimeOut = "TimeOut"
)

// Now is the wall clock in epoch milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}
