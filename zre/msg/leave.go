package msg

import (
	"fmt"

	zmq "github.com/pebbe/zmq4"
)

// Leave tells peers we left a group; the status counter lets them detect
// drift.
type Leave struct {
	envelope
	Group  string
	Status byte
}

// NewLeave creates a new Leave message.
func NewLeave() *Leave {
	return &Leave{}
}

// Marshal serializes the message body.
func (l *Leave) Marshal() ([]byte, error) {
	w := newWriter(LeaveID, l.sequence)
	w.shortStr(l.Group)
	w.u8(l.Status)
	return w.frame(), nil
}

// Unmarshal parses the message body.
func (l *Leave) Unmarshal(frames ...[]byte) error {
	r, err := newReader(LeaveID, frames)
	if err != nil {
		return err
	}
	l.sequence = r.u16()
	l.Group = r.shortStr()
	l.Status = r.u8()
	return r.err
}

// Send sends the message through a 0mq socket.
func (l *Leave) Send(socket *zmq.Socket) error {
	return send(socket, l)
}

// String returns a print friendly representation.
func (l *Leave) String() string {
	return fmt.Sprintf("LEAVE(seq=%d group=%s status=%d)", l.sequence, l.Group, l.Status)
}
