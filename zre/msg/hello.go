package msg

import (
	"fmt"

	zmq "github.com/pebbe/zmq4"
)

// Hello greets a peer so it can connect back to us. It carries everything a
// peer needs to know about a node: endpoint, groups, status, name and
// headers.
type Hello struct {
	envelope
	Endpoint string
	Groups   []string
	Status   byte
	Name     string
	Headers  map[string]string
}

// NewHello creates a new Hello message.
func NewHello() *Hello {
	return &Hello{Headers: make(map[string]string)}
}

// Marshal serializes the message body.
func (h *Hello) Marshal() ([]byte, error) {
	w := newWriter(HelloID, h.sequence)
	w.shortStr(h.Endpoint)
	w.u32(uint32(len(h.Groups)))
	for _, group := range h.Groups {
		w.longStr(group)
	}
	w.u8(h.Status)
	w.shortStr(h.Name)
	w.u32(uint32(len(h.Headers)))
	for key, value := range h.Headers {
		w.shortStr(key)
		w.longStr(value)
	}
	return w.frame(), nil
}

// Unmarshal parses the message body.
func (h *Hello) Unmarshal(frames ...[]byte) error {
	r, err := newReader(HelloID, frames)
	if err != nil {
		return err
	}
	h.sequence = r.u16()
	h.Endpoint = r.shortStr()
	for count := r.u32(); count > 0 && r.err == nil; count-- {
		h.Groups = append(h.Groups, r.longStr())
	}
	h.Status = r.u8()
	h.Name = r.shortStr()
	for count := r.u32(); count > 0 && r.err == nil; count-- {
		key := r.shortStr()
		h.Headers[key] = r.longStr()
	}
	return r.err
}

// Send sends the message through a 0mq socket.
func (h *Hello) Send(socket *zmq.Socket) error {
	return send(socket, h)
}

// String returns a print friendly representation.
func (h *Hello) String() string {
	return fmt.Sprintf("HELLO(seq=%d endpoint=%s groups=%v status=%d name=%s headers=%v)",
		h.sequence, h.Endpoint, h.Groups, h.Status, h.Name, h.Headers)
}
