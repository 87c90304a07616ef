package screening

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleBot  Role = "bot"
	RoleUser Role = "user"
)

// Status tracks the optimistic echo of a user answer. Bot lines are always
// delivered.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

type Message struct {
	ID     string    `json:"id"`
	From   Role      `json:"from"`
	Text   string    `json:"text"`
	Time   time.Time `json:"time"`
	Status Status    `json:"status"`
}

// Transcript is append-only. The one permitted change is settling a pending
// user message, once.
type Transcript struct {
	msgs []Message
	now  func() time.Time
}

func newTranscript(now func() time.Time) Transcript {
	return Transcript{now: now}
}

func (t *Transcript) append(from Role, text string, status Status) Message {
	m := Message{
		ID:     string(from) + "-" + uuid.NewString(),
		From:   from,
		Text:   text,
		Time:   t.now(),
		Status: status,
	}
	t.msgs = append(t.msgs, m)
	return m
}

func (t *Transcript) settle(id string, status Status) (Message, bool) {
	for i := range t.msgs {
		if t.msgs[i].ID == id && t.msgs[i].Status == StatusPending {
			t.msgs[i].Status = status
			return t.msgs[i], true
		}
	}
	return Message{}, false
}

func (t *Transcript) Messages() []Message {
	return append([]Message(nil), t.msgs...)
}

func (t *Transcript) LastBot() (Message, bool) {
	for i := len(t.msgs) - 1; i >= 0; i-- {
		if t.msgs[i].From == RoleBot {
			return t.msgs[i], true
		}
	}
	return Message{}, false
}
