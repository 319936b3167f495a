package testutil

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/xerrors"

	"github.com/borderwatch/borderwatch/borderd/notifications"
)

// FakeSink records deliveries and edits in memory. Setting DeliverErr or
// EditErr makes the respective operation fail.
type FakeSink struct {
	mu         sync.Mutex
	Delivered  []SentMessage
	Edited     []EditedMessage
	DeliverErr error
	EditErr    error
	next       int
}

type SentMessage struct {
	Destination notifications.Destination
	Message     notifications.Message
	Handle      notifications.Handle
}

type EditedMessage struct {
	Handle      notifications.Handle
	Message     notifications.Message
	Attachments []notifications.Attachment
}

var _ notifications.Sink = (*FakeSink)(nil)

func (f *FakeSink) Deliver(_ context.Context, dest notifications.Destination, msg notifications.Message) (notifications.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.DeliverErr != nil {
		return notifications.Handle{}, f.DeliverErr
	}
	f.next++
	h := notifications.Handle{Destination: dest, MessageID: strconv.Itoa(f.next)}
	f.Delivered = append(f.Delivered, SentMessage{Destination: dest, Message: msg.Clone(), Handle: h})
	return h, nil
}

func (f *FakeSink) Edit(_ context.Context, h notifications.Handle, msg notifications.Message, attachments []notifications.Attachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !h.Valid() {
		return xerrors.New("edit with empty handle")
	}
	// Failed edits are recorded too so tests can assert they were attempted.
	f.Edited = append(f.Edited, EditedMessage{Handle: h, Message: msg.Clone(), Attachments: attachments})
	return f.EditErr
}

// Deliveries returns a copy of the recorded deliveries.
func (f *FakeSink) Deliveries() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentMessage(nil), f.Delivered...)
}

// Edits returns a copy of the recorded edits.
func (f *FakeSink) Edits() []EditedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]EditedMessage(nil), f.Edited...)
}
