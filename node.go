package whorl

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	zmq "github.com/pebbe/zmq4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/zeromq/whorl/beacon"
	"github.com/zeromq/whorl/zre/msg"
)

const (
	// IANA-assigned port for ZRE discovery protocol
	zreDiscoveryPort = 5670

	beaconVersion = 0x1
	beaconSize    = 22

	reapInterval = 1 * time.Second

	// Port range 0xc000~0xffff is defined by IANA for dynamic or private
	// ports. We use this when choosing a port for dynamic binding.
	dynPortFrom uint16 = 0xc000
	dynPortTo   uint16 = 0xffff
)

type node struct {
	events chan *Event // Events to the owner
	cmds   chan *cmd   // Commands from the owner and replies back

	beacon    *beacon.Beacon
	inbox     *zmq.Socket // Our inbox socket (ROUTER)
	inboxChan chan [][]byte
	quitInbox chan struct{}
	inboxWG   sync.WaitGroup

	logger *logrus.Logger
	clock  clockwork.Clock

	terminated bool // $TERM was received
	started    bool // Node is bound and beaconing

	uuid       []byte            // Our UUID
	identity   string            // Our UUID as uppercase hex string
	name       string            // Our public name
	endpoint   string            // Our endpoint once bound
	port       uint16            // Our inbox port number, 0 picks one dynamically
	interval   time.Duration     // Beacon broadcast interval
	status     byte              // Our own change counter
	peers      map[string]*peer  // Hash of known peers, fast lookup
	peerGroups map[string]*group // Groups that our peers are in
	ownGroups  map[string]*group // Groups that we are in
	headers    map[string]string // Our header values
}

// newNode creates a new node. Note that until the node is started it is
// silent and invisible to other nodes on the network.
func newNode(events chan *Event, cmds chan *cmd) (*node, error) {
	n := &node{
		events:     events,
		cmds:       cmds,
		inboxChan:  make(chan [][]byte, 10000), // Do not block the inbox poller
		logger:     logrus.New(),
		clock:      clockwork.NewRealClock(),
		interval:   1 * time.Second,
		peers:      make(map[string]*peer),
		peerGroups: make(map[string]*group),
		ownGroups:  make(map[string]*group),
		headers:    make(map[string]string),
	}
	n.logger.SetLevel(logrus.WarnLevel)

	id := uuid.New()
	n.uuid = id[:]
	n.identity = fmt.Sprintf("%X", n.uuid)

	// Default name is the first six hex characters of the UUID
	n.name = n.identity[:6]

	return n, nil
}

// actor is the heart of the node. It owns all node state; the only way in
// is the command channel and the only ways out are the events channel and
// the peer mailboxes.
func (n *node) actor() {
	reap := time.After(reapInterval)

	for !n.terminated {
		var signals chan *beacon.Signal
		if n.beacon != nil {
			signals = n.beacon.Signals()
		}

		select {
		case c := <-n.cmds:
			n.handleCmd(c)

		case frames := <-n.inboxChan:
			transit, err := msg.Unmarshal(zmq.ROUTER, frames...)
			if err != nil {
				n.logger.Debugf("[%s] dropping malformed frame: %s", n.name, err)
				continue
			}
			n.recvFromPeer(transit)

		case s, ok := <-signals:
			if !ok {
				n.beacon = nil
				continue
			}
			n.recvFromBeacon(s)

		case <-reap:
			reap = time.After(reapInterval)
			n.reapPeers()
		}
	}
}

// handleCmd dispatches one owner command. Query commands reply on the same
// channel; an unknown tag is a programming error in the owner and fatal.
func (n *node) handleCmd(c *cmd) {
	switch c.cmd {
	case cmdUUID:
		n.cmds <- &cmd{payload: n.uuid}

	case cmdName:
		n.cmds <- &cmd{payload: n.name}

	case cmdSetName:
		name := c.payload.(string)
		if name == "" {
			n.logger.Warnf("[%s] ignoring empty name", n.name)
			break
		}
		n.name = name

	case cmdSetHeader:
		n.headers[c.key] = c.payload.(string)

	case cmdSetPort:
		if n.started {
			n.logger.Warnf("[%s] can't change inbox port on a started node", n.name)
			break
		}
		n.port = c.payload.(uint16)

	case cmdSetInterval:
		n.interval = c.payload.(time.Duration)

	case cmdSetVerbose:
		n.logger.SetLevel(logrus.DebugLevel)

	case cmdStart:
		err := n.start()
		n.cmds <- &cmd{payload: n.endpoint, err: err}

	case cmdStop:
		n.stop()
		n.cmds <- &cmd{}

	case cmdWhisper:
		n.whisper(c.key, c.payload.([]byte))

	case cmdShout:
		n.shout(c.key, c.payload.([]byte))

	case cmdJoin:
		n.join(c.key)

	case cmdLeave:
		n.leave(c.key)

	case cmdPeers:
		var peers []string
		for identity := range n.peers {
			peers = append(peers, identity)
		}
		n.cmds <- &cmd{payload: peers}

	case cmdPeerGroups:
		var groups []string
		for name := range n.peerGroups {
			groups = append(groups, name)
		}
		n.cmds <- &cmd{payload: groups}

	case cmdOwnGroups:
		var groups []string
		for name := range n.ownGroups {
			groups = append(groups, name)
		}
		n.cmds <- &cmd{payload: groups}

	case cmdPeerEndpoint:
		if peer, ok := n.peers[c.key]; ok {
			n.cmds <- &cmd{payload: peer.endpoint}
		} else {
			n.cmds <- &cmd{payload: ""}
		}

	case cmdPeerName:
		if peer, ok := n.peers[c.key]; ok {
			n.cmds <- &cmd{payload: peer.name}
		} else {
			n.cmds <- &cmd{payload: ""}
		}

	case cmdPeerHeader:
		if peer, ok := n.peers[c.key]; ok {
			value, _ := peer.Header(c.payload.(string))
			n.cmds <- &cmd{payload: value}
		} else {
			n.cmds <- &cmd{payload: ""}
		}

	case cmdDump:
		n.dump()

	case cmdTerm:
		n.terminated = true

	default:
		n.logger.Panicf("[%s] invalid command %q", n.name, c.cmd)
	}
}

// start binds the inbox, brings the beacon up and registers the inbox
// poller. On failure no state mutation persists.
func (n *node) start() (err error) {
	if n.started {
		return errors.New("node is already started")
	}

	n.inbox, err = zmq.NewSocket(zmq.ROUTER)
	if err != nil {
		return errors.Wrap(err, "creating inbox")
	}
	if err = n.inbox.SetIpv6(true); err != nil {
		n.inbox.Close()
		n.inbox = nil
		return errors.Wrap(err, "configuring inbox")
	}

	port := n.port
	if port != 0 {
		err = n.inbox.Bind(fmt.Sprintf("tcp://*:%d", port))
		if err != nil {
			n.inbox.Close()
			n.inbox = nil
			return errors.Wrapf(err, "binding inbox on port %d", port)
		}
	} else {
		for i := 0; i < 100; i++ {
			port = uint16(rand.Intn(int(dynPortTo-dynPortFrom))) + dynPortFrom
			if n.inbox.Bind(fmt.Sprintf("tcp://*:%d", port)) == nil {
				break
			}
			port = 0
		}
		if port == 0 {
			n.inbox.Close()
			n.inbox = nil
			return errors.New("no free port in the dynamic range")
		}
	}

	b := beacon.New()
	b.SetPort(zreDiscoveryPort).SetInterval(n.interval)
	b.NoEcho()
	b.Subscribe([]byte("ZRE"))
	if err = b.Publish(n.beaconData(port)); err != nil {
		n.inbox.Unbind(fmt.Sprintf("tcp://*:%d", port))
		n.inbox.Close()
		n.inbox = nil
		return errors.Wrap(err, "starting beacon")
	}

	n.beacon = b
	n.port = port
	n.endpoint = fmt.Sprintf("tcp://%s", net.JoinHostPort(b.Addr(), strconv.Itoa(int(port))))

	n.quitInbox = make(chan struct{})
	n.inboxWG.Add(1)
	go n.inboxHandler(n.inbox, n.quitInbox)

	n.started = true
	n.logger.Debugf("[%s] node started on %s", n.name, n.endpoint)

	return nil
}

// stop signals departure to peers before tearing anything down: one beacon
// with port 0 goes out, and a short dwell lets it reach the wire.
func (n *node) stop() {
	if !n.started {
		return
	}

	n.beacon.Publish(n.beaconData(0))
	time.Sleep(1 * time.Millisecond)
	n.beacon.Silence().Close()
	n.beacon = nil

	close(n.quitInbox)
	n.inboxWG.Wait()
	n.inbox.Unbind(fmt.Sprintf("tcp://*:%d", n.port))
	n.inbox.Close()
	n.inbox = nil

	for identity, peer := range n.peers {
		peer.disconnect()
		delete(n.peers, identity)
	}

	n.started = false
	n.emit(&Event{eventType: EventStop, peer: n.identity, name: n.name})
}

// inboxHandler polls the inbox socket and forwards raw frame sets to the
// actor. It is the only goroutine touching the socket while it runs.
func (n *node) inboxHandler(inbox *zmq.Socket, quit chan struct{}) {
	defer n.inboxWG.Done()

	poller := zmq.NewPoller()
	poller.Add(inbox, zmq.POLLIN)

	for {
		select {
		case <-quit:
			return
		default:
		}

		sockets, err := poller.Poll(500 * time.Millisecond)
		if err != nil {
			continue
		}
		for _, socket := range sockets {
			frames, err := socket.Socket.RecvMessageBytes(0)
			if err != nil {
				continue
			}
			n.inboxChan <- frames
		}
	}
}

// beaconData encodes our 22-byte beacon with the given inbox port. Port 0
// means we're going away.
func (n *node) beaconData(port uint16) []byte {
	buffer := new(bytes.Buffer)
	buffer.WriteString("ZRE")
	buffer.WriteByte(beaconVersion)
	buffer.Write(n.uuid)
	binary.Write(buffer, binary.BigEndian, port)
	return buffer.Bytes()
}

// validBeacon checks magic, length and version.
func validBeacon(data []byte) bool {
	return len(data) == beaconSize &&
		bytes.HasPrefix(data, []byte("ZRE")) &&
		data[3] == beaconVersion
}

// recvFromBeacon handles a new signal received from the beacon.
func (n *node) recvFromBeacon(s *beacon.Signal) {
	if !validBeacon(s.Transmit) {
		n.logger.Debugf("[%s] dropping invalid beacon from %s", n.name, s.Addr)
		return
	}

	senderUUID := s.Transmit[4:20]
	if bytes.Equal(senderUUID, n.uuid) {
		return
	}
	identity := fmt.Sprintf("%X", senderUUID)
	port := binary.BigEndian.Uint16(s.Transmit[20:22])

	if port > 0 {
		endpoint := fmt.Sprintf("tcp://%s", net.JoinHostPort(s.Addr, strconv.Itoa(int(port))))
		peer := n.requirePeer(identity, endpoint)
		peer.refresh()
	} else {
		// Peer is going away
		if peer, ok := n.peers[identity]; ok {
			n.removePeer(peer)
		}
	}
}

// recvFromPeer handles messages coming from other peers.
func (n *node) recvFromPeer(transit msg.Transit) {
	// The router socket tells us the identity of the sender. The routing
	// id is [1] followed by the 16-byte UUID; ignore the [1].
	routingID := transit.RoutingID()
	if len(routingID) != 17 {
		return
	}
	identity := fmt.Sprintf("%X", routingID[1:])

	peer := n.peers[identity]

	if hello, ok := transit.(*msg.Hello); ok {
		// On HELLO we may create the peer if it's unknown. On other
		// commands the peer must already exist.
		if peer != nil && peer.ready {
			// A ready peer saying Hello again means it restarted
			// and our record is stale
			n.removePeer(peer)
			peer = nil
		} else if peer != nil && peer.endpoint == n.endpoint {
			// Ignore our own echo
			return
		}
		peer = n.requirePeer(identity, hello.Endpoint)
		peer.ready = true
	}

	// Ignore the command if the peer isn't ready
	if peer == nil || !peer.ready {
		n.logger.Warnf("[%s] peer %s wasn't ready, ignoring a %T message", n.name, identity, transit)
		return
	}

	if !peer.checkMessage(transit) {
		n.logger.Warnf("[%s] lost messages from %s", n.name, identity)
		n.removePeer(peer)
		return
	}

	// Now process each command
	switch m := transit.(type) {
	case *msg.Hello:
		if m.Name != "" {
			peer.setName(m.Name)
		}
		// Store peer headers for future reference
		for key, val := range m.Headers {
			peer.headers[key] = val
		}

		headers := make(map[string]string)
		for key, val := range peer.headers {
			headers[key] = val
		}
		n.emit(&Event{
			eventType: EventEnter,
			peer:      identity,
			name:      peer.name,
			endpoint:  m.Endpoint,
			headers:   headers,
		})

		// Join peer to listed groups
		for _, group := range m.Groups {
			n.joinPeerGroup(peer, group)
		}

		// Hello command holds latest status of peer
		peer.status = m.Status

	case *msg.Whisper:
		// Pass up to the owner as a WHISPER event
		n.emit(&Event{
			eventType: EventWhisper,
			peer:      identity,
			name:      peer.name,
			payload:   m.Content,
		})

	case *msg.Shout:
		// Pass up to the owner as a SHOUT event
		n.emit(&Event{
			eventType: EventShout,
			peer:      identity,
			name:      peer.name,
			group:     m.Group,
			payload:   m.Content,
		})

	case *msg.Join:
		n.joinPeerGroup(peer, m.Group)
		if m.Status != peer.status {
			n.logger.Warnf("[%s] message status isn't equal to peer status, %d != %d", n.name, m.Status, peer.status)
		}

	case *msg.Leave:
		n.leavePeerGroup(peer, m.Group)
		if m.Status != peer.status {
			n.logger.Warnf("[%s] message status isn't equal to peer status, %d != %d", n.name, m.Status, peer.status)
		}

	case *msg.Ping:
		// The activity refresh below is all a ping asks for

	case *msg.PingOk:
		// Not expected in this profile
	}

	// Activity from the peer resets its timers
	peer.refresh()
}

// requirePeer finds or creates a peer via its UUID string. A created peer
// gets our HELLO but is not ready until we have its HELLO back.
func (n *node) requirePeer(identity, endpoint string) *peer {
	peer, ok := n.peers[identity]
	if ok {
		return peer
	}

	// Purge any previous peer on the same endpoint
	for _, p := range n.peers {
		if p.endpoint == endpoint {
			n.logger.Debugf("[%s] purging stale peer %s on %s", n.name, p.identity, endpoint)
			p.disconnect()
		}
	}

	peer = newPeer(identity, n.clock)
	if err := peer.connect(n.uuid, endpoint); err != nil {
		n.logger.Warnf("[%s] can't connect to %s: %s", n.name, endpoint, err)
	}

	// Handshake discovery by sending HELLO as the first message
	m := msg.NewHello()
	m.Endpoint = n.endpoint
	m.Status = n.status
	m.Name = n.name
	for key := range n.ownGroups {
		m.Groups = append(m.Groups, key)
	}
	for key, header := range n.headers {
		m.Headers[key] = header
	}
	peer.send(m)
	n.peers[identity] = peer

	return peer
}

// requirePeerGroup finds or creates a peer group via its name
func (n *node) requirePeerGroup(name string) *group {
	group, ok := n.peerGroups[name]
	if !ok {
		group = newGroup(name)
		n.peerGroups[name] = group
	}

	return group
}

// joinPeerGroup joins the peer to a group. The peer's status mirror is
// bumped so it stays aligned with the counter the peer sends in JOIN and
// LEAVE.
func (n *node) joinPeerGroup(peer *peer, name string) {
	group := n.requirePeerGroup(name)
	group.join(peer.identity)
	peer.status++

	// Now tell the owner the peer joined the group
	n.emit(&Event{
		eventType: EventJoin,
		peer:      peer.identity,
		name:      peer.name,
		group:     name,
	})
}

// leavePeerGroup removes the peer from a group, bumping the status mirror
// like joinPeerGroup does.
func (n *node) leavePeerGroup(peer *peer, name string) {
	group := n.requirePeerGroup(name)
	group.leave(peer.identity)
	peer.status++

	// Now tell the owner the peer left the group
	n.emit(&Event{
		eventType: EventLeave,
		peer:      peer.identity,
		name:      peer.name,
		group:     name,
	})
}

// removePeer takes a peer out of every group and out of the peers table,
// telling the owner it's gone.
func (n *node) removePeer(peer *peer) {
	if peer == nil {
		return
	}

	n.emit(&Event{
		eventType: EventExit,
		peer:      peer.identity,
		name:      peer.name,
	})
	for _, group := range n.peerGroups {
		group.leave(peer.identity)
	}
	// It's really important to disconnect from the peer before deleting
	// it, else we'd end up with difficulties reconnecting to the same
	// endpoint
	peer.disconnect()
	delete(n.peers, peer.identity)
}

// reapPeers runs once a second:
// - if a peer has gone quiet, send a TCP ping and tell the owner once
// - if a peer has disappeared, expire it
// Removals are applied after the iteration completes.
func (n *node) reapPeers() {
	now := n.clock.Now()

	var expired []*peer
	for _, peer := range n.peers {
		if !now.Before(peer.expiredAt) {
			expired = append(expired, peer)
		} else if !now.Before(peer.evasiveAt) && !peer.evasive {
			// One ping and one event per evasive episode; refresh
			// clears the latch
			peer.evasive = true
			peer.send(msg.NewPing())
			n.emit(&Event{
				eventType: EventEvasive,
				peer:      peer.identity,
				name:      peer.name,
			})
		}
	}

	for _, peer := range expired {
		n.removePeer(peer)
	}
}

func (n *node) whisper(identity string, content []byte) {
	// Send via the peer's mailbox; drop the message if the peer doesn't
	// exist (it may have been destroyed)
	if peer, ok := n.peers[identity]; ok {
		m := msg.NewWhisper()
		m.Content = content
		peer.send(m)
	} else {
		n.logger.Debugf("[%s] dropping whisper to unknown peer %s", n.name, identity)
	}
}

func (n *node) shout(name string, content []byte) {
	// Only send if we're a member of the group ourselves
	if _, ok := n.ownGroups[name]; !ok {
		return
	}
	g, ok := n.peerGroups[name]
	if !ok {
		return
	}

	m := msg.NewShout()
	m.Group = name
	m.Content = content
	for identity := range g.members {
		if peer, ok := n.peers[identity]; ok {
			peer.send(msg.Clone(m))
		}
	}
}

func (n *node) join(name string) {
	if _, ok := n.ownGroups[name]; ok {
		// Only send if we're not already in the group
		return
	}
	n.ownGroups[name] = newGroup(name)

	m := msg.NewJoin()
	m.Group = name

	// Update status before sending the command
	n.status++
	m.Status = n.status

	for _, peer := range n.peers {
		cloned := msg.Clone(m)
		peer.send(cloned)
	}
}

func (n *node) leave(name string) {
	if _, ok := n.ownGroups[name]; !ok {
		// Only send if we are actually in the group
		return
	}

	m := msg.NewLeave()
	m.Group = name

	// Update status before sending the command
	n.status++
	m.Status = n.status

	for _, peer := range n.peers {
		cloned := msg.Clone(m)
		peer.send(cloned)
	}
	delete(n.ownGroups, name)
}

// emit pushes an event to the owner without ever blocking the loop; a slow
// owner loses events, not the node.
func (n *node) emit(e *Event) {
	select {
	case n.events <- e:
	default:
		n.logger.Warnf("[%s] events channel is full, dropping %s", n.name, e.Type())
	}
}

// dump prints node state for diagnostics.
func (n *node) dump() {
	fmt.Printf("[%s] identity=%s endpoint=%s status=%d\n", n.name, n.identity, n.endpoint, n.status)
	fmt.Printf("[%s] headers=%v\n", n.name, n.headers)
	for name := range n.ownGroups {
		fmt.Printf("[%s] own group %s\n", n.name, name)
	}
	for name, group := range n.peerGroups {
		fmt.Printf("[%s] peer group %s members=%d\n", n.name, name, group.size())
	}
	for identity, peer := range n.peers {
		fmt.Printf("[%s] peer %s name=%s endpoint=%s ready=%t\n", n.name, identity, peer.name, peer.endpoint, peer.ready)
	}
}
