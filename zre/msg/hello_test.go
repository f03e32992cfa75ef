package msg

import (
	"bytes"
	"testing"

	zmq "github.com/pebbe/zmq4"
)

func TestHello(t *testing.T) {

	// Create pair of sockets we can send through

	// Output socket
	output, err := zmq.NewSocket(zmq.DEALER)
	if err != nil {
		t.Fatal(err)
	}
	defer output.Close()

	routingID := "Shout"
	output.SetIdentity(routingID)
	err = output.Bind("inproc://selftest-hello")
	if err != nil {
		t.Fatal(err)
	}
	defer output.Unbind("inproc://selftest-hello")

	// Input socket
	input, err := zmq.NewSocket(zmq.ROUTER)
	if err != nil {
		t.Fatal(err)
	}
	defer input.Close()

	err = input.Connect("inproc://selftest-hello")
	if err != nil {
		t.Fatal(err)
	}
	defer input.Disconnect("inproc://selftest-hello")

	// Create a Hello message and send it through the wire
	hello := NewHello()
	hello.sequence = 123
	hello.Endpoint = "tcp://127.0.0.1:50587"
	hello.Groups = []string{"GLOBAL", "CHAT"}
	hello.Status = 123
	hello.Name = "node0"
	hello.Headers = map[string]string{"Name": "Brutus", "Age": "43"}

	err = hello.Send(output)
	if err != nil {
		t.Fatal(err)
	}

	transit, err := Recv(input)
	if err != nil {
		t.Fatal(err)
	}

	tr := transit.(*Hello)

	if tr.sequence != 123 {
		t.Fatalf("expected %d, got %d", 123, tr.sequence)
	}
	if tr.Endpoint != "tcp://127.0.0.1:50587" {
		t.Fatalf("expected %s, got %s", "tcp://127.0.0.1:50587", tr.Endpoint)
	}
	for idx, str := range []string{"GLOBAL", "CHAT"} {
		if tr.Groups[idx] != str {
			t.Fatalf("expected %s, got %s", str, tr.Groups[idx])
		}
	}
	if tr.Status != 123 {
		t.Fatalf("expected %d, got %d", 123, tr.Status)
	}
	if tr.Name != "node0" {
		t.Fatalf("expected %s, got %s", "node0", tr.Name)
	}
	for key, val := range map[string]string{"Name": "Brutus", "Age": "43"} {
		if tr.Headers[key] != val {
			t.Fatalf("expected %s, got %s", val, tr.Headers[key])
		}
	}

	err = tr.Send(input)
	if err != nil {
		t.Fatal(err)
	}

	transit, err = Recv(output)
	if err != nil {
		t.Fatal(err)
	}

	if routingID != string(tr.RoutingID()) {
		t.Fatalf("expected %s, got %s", routingID, string(tr.RoutingID()))
	}
}

func TestHelloRoundTrip(t *testing.T) {
	hello := NewHello()
	hello.sequence = 1
	hello.Endpoint = "tcp://192.168.1.10:49152"
	hello.Groups = []string{"GLOBAL"}
	hello.Status = 1
	hello.Name = "AB01CD"
	hello.Headers["X-KEY"] = "value"

	data, err := hello.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	decoded := NewHello()
	if err = decoded.Unmarshal(data); err != nil {
		t.Fatal(err)
	}

	again, err := decoded.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(data, again) {
		t.Errorf("encode(decode(b)) != b:\n% X\n% X", data, again)
	}
}

func TestHelloBadVersion(t *testing.T) {
	hello := NewHello()
	data, err := hello.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	data[3] = 9 // bogus version

	if err = NewHello().Unmarshal(data); err == nil {
		t.Error("expected version error")
	}
}
