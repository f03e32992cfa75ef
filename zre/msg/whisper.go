package msg

import (
	"errors"
	"fmt"

	zmq "github.com/pebbe/zmq4"
)

// Whisper carries a message to a single peer. The payload is the trailing
// opaque frame, not part of the body.
type Whisper struct {
	envelope
	Content []byte
}

// NewWhisper creates a new Whisper message.
func NewWhisper() *Whisper {
	return &Whisper{}
}

// Marshal serializes the message body.
func (w *Whisper) Marshal() ([]byte, error) {
	return newWriter(WhisperID, w.sequence).frame(), nil
}

// Unmarshal parses the message body and takes the payload from the
// trailing frame.
func (w *Whisper) Unmarshal(frames ...[]byte) error {
	r, err := newReader(WhisperID, frames)
	if err != nil {
		return err
	}
	w.sequence = r.u16()
	if r.err != nil {
		return r.err
	}
	if len(frames) < 2 {
		return errors.New("missing content frame")
	}
	w.Content = frames[1]
	return nil
}

// Send sends the message through a 0mq socket.
func (w *Whisper) Send(socket *zmq.Socket) error {
	return send(socket, w, w.Content)
}

// String returns a print friendly representation.
func (w *Whisper) String() string {
	return fmt.Sprintf("WHISPER(seq=%d content=%d bytes)", w.sequence, len(w.Content))
}
