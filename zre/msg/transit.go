package msg

import (
	"errors"

	zmq "github.com/pebbe/zmq4"
)

// Transit is the interface implemented by all ZRE messages.
type Transit interface {
	Marshal() ([]byte, error)
	Unmarshal(...[]byte) error
	String() string
	Send(*zmq.Socket) error
	SetRoutingID([]byte)
	RoutingID() []byte
	SetSequence(uint16)
	Sequence() uint16
}

// envelope carries what every message shares beyond its body: the routing
// id of the sender and the per-peer sequence number.
type envelope struct {
	routingID []byte
	sequence  uint16
}

// RoutingID returns the routing id; it is set whenever talking to a ROUTER.
func (e *envelope) RoutingID() []byte {
	return e.routingID
}

// SetRoutingID sets the routing id; it is sent as the leading frame
// whenever talking to a ROUTER.
func (e *envelope) SetRoutingID(routingID []byte) {
	e.routingID = routingID
}

// Sequence returns the sequence.
func (e *envelope) Sequence() uint16 {
	return e.sequence
}

// SetSequence sets the sequence.
func (e *envelope) SetSequence(sequence uint16) {
	e.sequence = sequence
}

// Recv reads one valid message from a 0mq socket. We loop over any garbage
// data we might receive from badly-connected peers.
func Recv(socket *zmq.Socket) (Transit, error) {
	socType, err := socket.GetType()
	if err != nil {
		return nil, err
	}

	for {
		frames, err := socket.RecvMessageBytes(0)
		if err != nil {
			return nil, err
		}

		if t, err := Unmarshal(socType, frames...); err == nil {
			return t, nil
		}
	}
}

// Unmarshal parses a message from raw frames. When reading from a ROUTER
// socket the leading frame is the routing id of the sender.
func Unmarshal(socType zmq.Type, frames ...[]byte) (Transit, error) {
	var routingID []byte
	if socType == zmq.ROUTER {
		if len(frames) < 2 {
			return nil, errors.New("no routing id frame")
		}
		routingID, frames = frames[0], frames[1:]
	}

	if len(frames) == 0 || len(frames[0]) < 4 {
		return nil, errMalformed
	}

	var t Transit
	switch frames[0][2] {
	case HelloID:
		t = NewHello()
	case WhisperID:
		t = NewWhisper()
	case ShoutID:
		t = NewShout()
	case JoinID:
		t = NewJoin()
	case LeaveID:
		t = NewLeave()
	case PingID:
		t = NewPing()
	case PingOkID:
		t = NewPingOk()
	default:
		return nil, errors.New("unknown message id")
	}

	if err := t.Unmarshal(frames...); err != nil {
		return nil, err
	}
	t.SetRoutingID(routingID)

	return t, nil
}

// Clone deep-copies a message by running it through its own codec, so that
// each recipient gets its own sequence stamp.
func Clone(t Transit) Transit {
	body, err := t.Marshal()
	if err != nil {
		return nil
	}

	frames := [][]byte{body}
	switch m := t.(type) {
	case *Whisper:
		frames = append(frames, append([]byte(nil), m.Content...))
	case *Shout:
		frames = append(frames, append([]byte(nil), m.Content...))
	}

	cloned, err := Unmarshal(zmq.DEALER, frames...)
	if err != nil {
		return nil
	}
	return cloned
}

// send writes the routing id (when talking to a ROUTER), the message body
// and any content frames as one multi-frame message.
func send(socket *zmq.Socket, t Transit, content ...[]byte) error {
	body, err := t.Marshal()
	if err != nil {
		return err
	}
	socType, err := socket.GetType()
	if err != nil {
		return err
	}

	frames := make([][]byte, 0, 3)
	if socType == zmq.ROUTER {
		frames = append(frames, t.RoutingID())
	}
	frames = append(frames, body)
	frames = append(frames, content...)

	for i, frame := range frames {
		flags := zmq.Flag(0)
		if i+1 < len(frames) {
			flags = zmq.SNDMORE
		}
		if _, err := socket.SendBytes(frame, flags); err != nil {
			return err
		}
	}

	return nil
}
