package msg

import (
	"fmt"

	zmq "github.com/pebbe/zmq4"
)

// Join tells peers we joined a group; the status counter lets them detect
// drift.
type Join struct {
	envelope
	Group  string
	Status byte
}

// NewJoin creates a new Join message.
func NewJoin() *Join {
	return &Join{}
}

// Marshal serializes the message body.
func (j *Join) Marshal() ([]byte, error) {
	w := newWriter(JoinID, j.sequence)
	w.shortStr(j.Group)
	w.u8(j.Status)
	return w.frame(), nil
}

// Unmarshal parses the message body.
func (j *Join) Unmarshal(frames ...[]byte) error {
	r, err := newReader(JoinID, frames)
	if err != nil {
		return err
	}
	j.sequence = r.u16()
	j.Group = r.shortStr()
	j.Status = r.u8()
	return r.err
}

// Send sends the message through a 0mq socket.
func (j *Join) Send(socket *zmq.Socket) error {
	return send(socket, j)
}

// String returns a print friendly representation.
func (j *Join) String() string {
	return fmt.Sprintf("JOIN(seq=%d group=%s status=%d)", j.sequence, j.Group, j.Status)
}
