package bus

import (
	"os"
	"sync"

	"github.com/ralflukner/devcomm/message"
)

// DefaultJournalPath is where undeliverable messages are kept, one JSON
// document per line. Nothing re-injects the file automatically; replay is
// an operator action.
const DefaultJournalPath = "devcomm_failed_messages.jsonl"

// journal is the durable fallback for messages the broker would not take.
type journal struct {
	mu   sync.Mutex
	path string
}

func newJournal(path string) *journal {
	if path == "" {
		path = DefaultJournalPath
	}
	return &journal{path: path}
}

// record appends the message's wire document as one line.
func (j *journal) record(m *message.Message) error {
	doc, err := message.Encode(m)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(doc, '\n')); err != nil {
		return err
	}
	return f.Sync()
}
