package status

import "time"

// MessageLogSize is how many control messages are kept.
const MessageLogSize = 5

// Message is one entry in the control message log.
type Message struct {
	At    time.Time
	Text  string
	Error bool
}

// Format renders the message as "15:04:05: text" in loc.
func (m Message) Format(loc *time.Location) string {
	return m.At.In(loc).Format("15:04:05") + ": " + m.Text
}

// messageLog is a fixed-capacity ring that overwrites its oldest entry.
// Not safe for concurrent use; caller must synchronize.
type messageLog struct {
	buf   []Message
	head  int // next write position
	count int
}

func newMessageLog(capacity int) *messageLog {
	return &messageLog{buf: make([]Message, capacity)}
}

func (r *messageLog) push(m Message) {
	r.buf[r.head] = m
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// newestFirst returns a copy of the log, most recent entry first.
func (r *messageLog) newestFirst() []Message {
	if r.count == 0 {
		return nil
	}
	out := make([]Message, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head-1-i+len(r.buf))%len(r.buf)]
	}
	return out
}
