package msg

import (
	"fmt"

	zmq "github.com/pebbe/zmq4"
)

// Ping pokes a peer that has gone quiet; any reply refreshes its liveness.
type Ping struct {
	envelope
}

// NewPing creates a new Ping message.
func NewPing() *Ping {
	return &Ping{}
}

// Marshal serializes the message body.
func (p *Ping) Marshal() ([]byte, error) {
	return newWriter(PingID, p.sequence).frame(), nil
}

// Unmarshal parses the message body.
func (p *Ping) Unmarshal(frames ...[]byte) error {
	r, err := newReader(PingID, frames)
	if err != nil {
		return err
	}
	p.sequence = r.u16()
	return r.err
}

// Send sends the message through a 0mq socket.
func (p *Ping) Send(socket *zmq.Socket) error {
	return send(socket, p)
}

// String returns a print friendly representation.
func (p *Ping) String() string {
	return fmt.Sprintf("PING(seq=%d)", p.sequence)
}

// PingOk answers a ping.
type PingOk struct {
	envelope
}

// NewPingOk creates a new PingOk message.
func NewPingOk() *PingOk {
	return &PingOk{}
}

// Marshal serializes the message body.
func (p *PingOk) Marshal() ([]byte, error) {
	return newWriter(PingOkID, p.sequence).frame(), nil
}

// Unmarshal parses the message body.
func (p *PingOk) Unmarshal(frames ...[]byte) error {
	r, err := newReader(PingOkID, frames)
	if err != nil {
		return err
	}
	p.sequence = r.u16()
	return r.err
}

// Send sends the message through a 0mq socket.
func (p *PingOk) Send(socket *zmq.Socket) error {
	return send(socket, p)
}

// String returns a print friendly representation.
func (p *PingOk) String() string {
	return fmt.Sprintf("PING-OK(seq=%d)", p.sequence)
}
