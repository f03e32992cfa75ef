package msg

import (
	"errors"
	"fmt"

	zmq "github.com/pebbe/zmq4"
)

// Shout carries a message to every peer in a group. The payload is the
// trailing opaque frame, not part of the body.
type Shout struct {
	envelope
	Group   string
	Content []byte
}

// NewShout creates a new Shout message.
func NewShout() *Shout {
	return &Shout{}
}

// Marshal serializes the message body.
func (s *Shout) Marshal() ([]byte, error) {
	w := newWriter(ShoutID, s.sequence)
	w.shortStr(s.Group)
	return w.frame(), nil
}

// Unmarshal parses the message body and takes the payload from the
// trailing frame.
func (s *Shout) Unmarshal(frames ...[]byte) error {
	r, err := newReader(ShoutID, frames)
	if err != nil {
		return err
	}
	s.sequence = r.u16()
	s.Group = r.shortStr()
	if r.err != nil {
		return r.err
	}
	if len(frames) < 2 {
		return errors.New("missing content frame")
	}
	s.Content = frames[1]
	return nil
}

// Send sends the message through a 0mq socket.
func (s *Shout) Send(socket *zmq.Socket) error {
	return send(socket, s, s.Content)
}

// String returns a print friendly representation.
func (s *Shout) String() string {
	return fmt.Sprintf("SHOUT(seq=%d group=%s content=%d bytes)", s.sequence, s.Group, len(s.Content))
}
