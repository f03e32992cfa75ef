package whorl

import (
	"bytes"
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/zeromq/whorl/beacon"
	"github.com/zeromq/whorl/zre/msg"
)

func testNode(t *testing.T) (*node, chan *Event) {
	t.Helper()

	events := make(chan *Event, 100)
	n, err := newNode(events, make(chan *cmd))
	require.NoError(t, err)
	n.endpoint = "tcp://127.0.0.1:5670"

	return n, events
}

func randomUUID(t *testing.T) []byte {
	t.Helper()

	u := make([]byte, 16)
	_, err := io.ReadFull(crand.Reader, u)
	require.NoError(t, err)
	return u
}

func helloFrom(u []byte, seq uint16, endpoint string, groups ...string) *msg.Hello {
	hello := msg.NewHello()
	hello.SetRoutingID(append([]byte{1}, u...))
	hello.SetSequence(seq)
	hello.Endpoint = endpoint
	hello.Name = "remote"
	hello.Groups = groups
	hello.Status = byte(len(groups))
	return hello
}

func drainEvents(events chan *Event) (types []EventType) {
	for {
		select {
		case e := <-events:
			types = append(types, e.Type())
		default:
			return
		}
	}
}

func TestHelloCreatesReadyPeer(t *testing.T) {
	n, events := testNode(t)

	you := randomUUID(t)
	identity := fmt.Sprintf("%X", you)

	n.recvFromPeer(helloFrom(you, 1, "tcp://127.0.0.1:5551", "GLOBAL"))

	peer := n.peers[identity]
	require.NotNil(t, peer)
	require.True(t, peer.ready)
	require.Equal(t, "remote", peer.name)
	require.Equal(t, "tcp://127.0.0.1:5551", peer.endpoint)
	require.Equal(t, byte(1), peer.status)

	group := n.peerGroups["GLOBAL"]
	require.NotNil(t, group)
	require.True(t, group.contains(identity))

	require.Equal(t, []EventType{EventEnter, EventJoin}, drainEvents(events))
}

func TestNotReadyPeerIsIgnored(t *testing.T) {
	n, events := testNode(t)

	you := randomUUID(t)
	whisper := msg.NewWhisper()
	whisper.SetRoutingID(append([]byte{1}, you...))
	whisper.SetSequence(1)
	whisper.Content = []byte("hi")

	n.recvFromPeer(whisper)

	require.Empty(t, n.peers)
	require.Empty(t, drainEvents(events))
}

func TestSequenceGapRemovesPeer(t *testing.T) {
	n, events := testNode(t)

	you := randomUUID(t)
	identity := fmt.Sprintf("%X", you)

	n.recvFromPeer(helloFrom(you, 5, "tcp://127.0.0.1:5551"))
	require.Contains(t, n.peers, identity)

	whisper := msg.NewWhisper()
	whisper.SetRoutingID(append([]byte{1}, you...))
	whisper.SetSequence(7) // expected 6
	whisper.Content = []byte("hi")
	n.recvFromPeer(whisper)

	require.NotContains(t, n.peers, identity)
	require.Equal(t, []EventType{EventEnter, EventExit}, drainEvents(events))
}

func TestHelloFromReadyPeerReplacesIt(t *testing.T) {
	n, events := testNode(t)

	you := randomUUID(t)
	identity := fmt.Sprintf("%X", you)

	n.recvFromPeer(helloFrom(you, 1, "tcp://127.0.0.1:5551"))
	first := n.peers[identity]

	// The peer restarted: same UUID, fresh sequence
	n.recvFromPeer(helloFrom(you, 1, "tcp://127.0.0.1:5553"))
	second := n.peers[identity]

	require.NotNil(t, second)
	require.NotSame(t, first, second)
	require.True(t, second.ready)
	require.Equal(t, "tcp://127.0.0.1:5553", second.endpoint)

	require.Equal(t, []EventType{EventEnter, EventExit, EventEnter}, drainEvents(events))
}

func TestJoinLeaveStatusCounter(t *testing.T) {
	n, _ := testNode(t)

	n.join("chat")
	require.Equal(t, byte(1), n.status)
	require.Contains(t, n.ownGroups, "chat")

	// Joining a group we're in is a no-op
	n.join("chat")
	require.Equal(t, byte(1), n.status)

	n.leave("chat")
	require.Equal(t, byte(2), n.status)
	require.NotContains(t, n.ownGroups, "chat")

	// Leaving a group we're not in is a no-op
	n.leave("chat")
	require.Equal(t, byte(2), n.status)
}

func TestShoutRequiresOwnMembership(t *testing.T) {
	n, _ := testNode(t)

	you := randomUUID(t)
	identity := fmt.Sprintf("%X", you)

	n.recvFromPeer(helloFrom(you, 1, "tcp://127.0.0.1:5551", "chat"))
	peer := n.peers[identity]
	sent := peer.sentSequence // our HELLO

	// Not in the group ourselves: nothing goes out
	n.shout("chat", []byte("hi"))
	require.Equal(t, sent, peer.sentSequence)

	n.join("chat") // sends JOIN to the peer
	require.Equal(t, sent+1, peer.sentSequence)

	n.shout("chat", []byte("hi"))
	require.Equal(t, sent+2, peer.sentSequence)
}

func TestWhisperUnknownPeerIsDropped(t *testing.T) {
	n, events := testNode(t)

	n.whisper("DEADBEEF", []byte("hi"))

	require.Empty(t, n.peers)
	require.Empty(t, drainEvents(events))
}

func beaconFrom(u []byte, port uint16) []byte {
	buffer := new(bytes.Buffer)
	buffer.WriteString("ZRE")
	buffer.WriteByte(beaconVersion)
	buffer.Write(u)
	binary.Write(buffer, binary.BigEndian, port)
	return buffer.Bytes()
}

func TestBeaconCreatesPeer(t *testing.T) {
	n, _ := testNode(t)

	you := randomUUID(t)
	identity := fmt.Sprintf("%X", you)

	n.recvFromBeacon(&beacon.Signal{Addr: "127.0.0.1", Transmit: beaconFrom(you, 5551)})

	peer := n.peers[identity]
	require.NotNil(t, peer)
	require.False(t, peer.ready)
	require.Equal(t, "tcp://127.0.0.1:5551", peer.endpoint)
}

func TestZeroPortBeaconRemovesPeer(t *testing.T) {
	n, events := testNode(t)

	you := randomUUID(t)
	identity := fmt.Sprintf("%X", you)

	n.recvFromBeacon(&beacon.Signal{Addr: "127.0.0.1", Transmit: beaconFrom(you, 5551)})
	require.Contains(t, n.peers, identity)

	n.recvFromBeacon(&beacon.Signal{Addr: "127.0.0.1", Transmit: beaconFrom(you, 0)})
	require.NotContains(t, n.peers, identity)
	require.Equal(t, []EventType{EventExit}, drainEvents(events))

	// A second farewell from the same peer must not emit another EXIT
	n.recvFromBeacon(&beacon.Signal{Addr: "127.0.0.1", Transmit: beaconFrom(you, 0)})
	require.Empty(t, drainEvents(events))
}

func TestInvalidBeaconIsDropped(t *testing.T) {
	n, _ := testNode(t)

	you := randomUUID(t)

	// Truncated
	n.recvFromBeacon(&beacon.Signal{Addr: "127.0.0.1", Transmit: beaconFrom(you, 5551)[:10]})
	// Wrong magic
	bad := beaconFrom(you, 5551)
	bad[0] = 'X'
	n.recvFromBeacon(&beacon.Signal{Addr: "127.0.0.1", Transmit: bad})
	// Wrong version
	bad = beaconFrom(you, 5551)
	bad[3] = 9
	n.recvFromBeacon(&beacon.Signal{Addr: "127.0.0.1", Transmit: bad})
	// Our own beacon
	n.recvFromBeacon(&beacon.Signal{Addr: "127.0.0.1", Transmit: beaconFrom(n.uuid, 5551)})

	require.Empty(t, n.peers)
}

func TestBeaconPurgesStalePeerOnSameEndpoint(t *testing.T) {
	n, _ := testNode(t)

	old := randomUUID(t)
	oldIdentity := fmt.Sprintf("%X", old)
	n.recvFromBeacon(&beacon.Signal{Addr: "127.0.0.1", Transmit: beaconFrom(old, 5551)})
	stale := n.peers[oldIdentity]
	require.True(t, stale.connected)

	// Same endpoint, new UUID: the old peer gets disconnected
	fresh := randomUUID(t)
	n.recvFromBeacon(&beacon.Signal{Addr: "127.0.0.1", Transmit: beaconFrom(fresh, 5551)})

	require.False(t, stale.connected)
	require.Contains(t, n.peers, fmt.Sprintf("%X", fresh))
}

func TestReaper(t *testing.T) {
	n, events := testNode(t)

	clock := clockwork.NewFakeClock()
	n.clock = clock

	you := randomUUID(t)
	identity := fmt.Sprintf("%X", you)
	n.recvFromPeer(helloFrom(you, 1, "tcp://127.0.0.1:5551"))
	drainEvents(events)

	// Quiet but not yet evasive
	n.reapPeers()
	require.Empty(t, drainEvents(events))

	// Evasive: one ping and one event per episode
	clock.Advance(6 * time.Second)
	n.reapPeers()
	require.Equal(t, []EventType{EventEvasive}, drainEvents(events))

	n.reapPeers()
	require.Empty(t, drainEvents(events), "EVASIVE fired twice in one episode")

	// Activity clears the episode
	peer := n.peers[identity]
	ping := msg.NewPing()
	ping.SetRoutingID(append([]byte{1}, you...))
	ping.SetSequence(peer.wantSequence)
	n.recvFromPeer(ping)
	require.False(t, peer.evasive)

	clock.Advance(6 * time.Second)
	n.reapPeers()
	require.Equal(t, []EventType{EventEvasive}, drainEvents(events))

	// Expired: removed within one tick
	clock.Advance(30 * time.Second)
	n.reapPeers()
	require.Equal(t, []EventType{EventExit}, drainEvents(events))
	require.NotContains(t, n.peers, identity)
}
