// Package notify delivers best-effort operational notifications.
package notify

import "log"

// Sender posts a short notification to one destination.
type Sender interface {
	Send(title, body string) error
}

// Multi fans a notification out to several senders, logging individual
// failures and returning nil; delivery is advisory everywhere it is used.
type Multi struct {
	senders []Sender
}

// NewMulti creates a fan-out sender. Nil entries are skipped.
func NewMulti(senders ...Sender) *Multi {
	m := &Multi{}
	for _, s := range senders {
		if s != nil {
			m.senders = append(m.senders, s)
		}
	}
	return m
}

// Empty reports whether no destinations are configured.
func (m *Multi) Empty() bool { return len(m.senders) == 0 }

// Send delivers to every destination, best-effort.
func (m *Multi) Send(title, body string) error {
	for _, s := range m.senders {
		if err := s.Send(title, body); err != nil {
			log.Printf("notify: send %q: %v", title, err)
		}
	}
	return nil
}
