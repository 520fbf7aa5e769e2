package device

import (
	"context"
	"sync"
)

// Sent is one recorded command
type Sent struct {
	Members    []string
	Action     Action
	Brightness int
}

// Recorder is a Commander that records commands for test assertions.
type Recorder struct {
	mu sync.Mutex

	// Commands contains every command in call order.
	Commands []Sent

	// Err, if set, is returned by Send after recording.
	Err error
}

// NewRecorder creates a Recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Send records the command
func (r *Recorder) Send(_ context.Context, members []string, action Action, brightness int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Commands = append(r.Commands, Sent{
		Members:    append([]string(nil), members...),
		Action:     action,
		Brightness: brightness,
	})
	return r.Err
}

// Sent returns a copy of the recorded commands
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.Commands...)
}

// Reset clears recorded commands
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Commands = nil
	r.Err = nil
}
