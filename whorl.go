// Whorl is an open-source framework for proximity-based peer-to-peer
// applications, implementing the ZRE protocol (RFC 36). Whorl does local
// area discovery and clustering. A Whorl node broadcasts UDP beacons, and
// connects to peers that it finds. This package wraps a node with a
// message-based API.
package whorl

import (
	"fmt"
	"time"
)

// Whorl structure
type Whorl struct {
	cmds     chan *cmd
	events   chan *Event // Receives incoming cluster events/traffic
	uuid     string      // Copy of our uuid
	name     string      // Copy of our name
	endpoint string      // Copy of our endpoint, set by Start
}

type cmd struct {
	cmd     string
	key     string
	payload interface{}
	err     error // Only on the return
}

const (
	cmdUUID         = "UUID"
	cmdName         = "NAME"
	cmdSetName      = "SET NAME"
	cmdSetHeader    = "SET HEADER"
	cmdSetPort      = "SET PORT"
	cmdSetInterval  = "SET INTERVAL"
	cmdSetVerbose   = "SET VERBOSE"
	cmdStart        = "START"
	cmdStop         = "STOP"
	cmdWhisper      = "WHISPER"
	cmdShout        = "SHOUT"
	cmdJoin         = "JOIN"
	cmdLeave        = "LEAVE"
	cmdPeers        = "PEERS"
	cmdPeerGroups   = "PEER GROUPS"
	cmdOwnGroups    = "OWN GROUPS"
	cmdPeerEndpoint = "PEER ENDPOINT"
	cmdPeerName     = "PEER NAME"
	cmdPeerHeader   = "PEER HEADER"
	cmdDump         = "DUMP"
	cmdTerm         = "$TERM"
)

// New creates a new Whorl node. Note that until you start the node it is
// silent and invisible to other nodes on the network.
func New() (w *Whorl, err error) {
	w, _, err = newWhorl()
	return
}

// newWhorl creates a new node and returns the node object as well, which is
// used for testing purposes
func newWhorl() (*Whorl, *node, error) {
	w := &Whorl{
		// The events channel is deep so that a burst of cluster
		// traffic doesn't stall the node; the command channel is
		// unbuffered because the main select acts as a lock.
		events: make(chan *Event, 10000),
		cmds:   make(chan *cmd),
	}

	n, err := newNode(w.events, w.cmds)
	if err != nil {
		return nil, nil, err
	}

	go n.actor()

	return w, n, nil
}

// Uuid returns our node UUID as an uppercase hex string, after successful
// initialization.
func (w *Whorl) Uuid() (uuid string) {
	if w.uuid != "" {
		return w.uuid
	}

	w.cmds <- &cmd{cmd: cmdUUID}
	out := <-w.cmds
	w.uuid = fmt.Sprintf("%X", out.payload.([]byte))

	return w.uuid
}

// Name returns our node name, after successful initialization. By default
// it's the first six characters of the UUID.
func (w *Whorl) Name() (name string) {
	if w.name != "" {
		return w.name
	}

	w.cmds <- &cmd{cmd: cmdName}
	out := <-w.cmds
	w.name = out.payload.(string)

	return w.name
}

// SetName sets the node name; this is provided to other nodes during
// discovery. If you do not set this, the UUID is used as a basis. The name
// must be non-empty.
func (w *Whorl) SetName(name string) *Whorl {
	w.cmds <- &cmd{
		cmd:     cmdSetName,
		payload: name,
	}
	w.name = ""

	return w
}

// SetHeader sets a node header; these are provided to other nodes during
// discovery and come in each ENTER event.
func (w *Whorl) SetHeader(name string, format string, args ...interface{}) *Whorl {
	payload := fmt.Sprintf(format, args...)
	w.cmds <- &cmd{
		cmd:     cmdSetHeader,
		key:     name,
		payload: payload,
	}

	return w
}

// SetVerbose sets verbose mode; this tells the node to log all traffic as
// well as all major events.
func (w *Whorl) SetVerbose() *Whorl {
	w.cmds <- &cmd{
		cmd: cmdSetVerbose,
	}

	return w
}

// SetPort overrides the inbox TCP port; by default the node binds an
// ephemeral port from the dynamic range. Only effective before Start.
func (w *Whorl) SetPort(port uint16) *Whorl {
	w.cmds <- &cmd{
		cmd:     cmdSetPort,
		payload: port,
	}

	return w
}

// SetInterval sets the discovery beacon interval. Default is one beacon
// every second.
func (w *Whorl) SetInterval(interval time.Duration) *Whorl {
	w.cmds <- &cmd{
		cmd:     cmdSetInterval,
		payload: interval,
	}

	return w
}

// Start starts the node: after setting header values, when you start the
// node it begins discovery and connection. Returns nil if OK, an error if
// it wasn't possible to start the node.
func (w *Whorl) Start() (err error) {
	w.cmds <- &cmd{
		cmd: cmdStart,
	}
	out := <-w.cmds

	if out.err != nil {
		return out.err
	}
	w.endpoint = out.payload.(string)

	return nil
}

// Stop stops the node; this signals to other peers that this node will go
// away. This is polite; however you can also just destroy the node without
// stopping it.
func (w *Whorl) Stop() {
	w.cmds <- &cmd{
		cmd: cmdStop,
	}
	<-w.cmds
}

// Endpoint returns the endpoint the inbox is bound to, once started.
func (w *Whorl) Endpoint() string {
	return w.endpoint
}

// Join a named group; after joining a group you can send messages to the
// group and all nodes in that group will receive them.
func (w *Whorl) Join(group string) *Whorl {
	w.cmds <- &cmd{
		cmd: cmdJoin,
		key: group,
	}
	return w
}

// Leave a group.
func (w *Whorl) Leave(group string) *Whorl {
	w.cmds <- &cmd{
		cmd: cmdLeave,
		key: group,
	}
	return w
}

// Events returns the channel of events. The events may be a control event
// (ENTER, EXIT, STOP, EVASIVE, JOIN, LEAVE) or data (WHISPER, SHOUT).
func (w *Whorl) Events() chan *Event {
	return w.events
}

// Whisper sends a message to a single peer, specified as a UUID string.
func (w *Whorl) Whisper(peer string, payload []byte) *Whorl {
	w.cmds <- &cmd{
		cmd:     cmdWhisper,
		key:     peer,
		payload: payload,
	}
	return w
}

// Shout sends a message to a named group.
func (w *Whorl) Shout(group string, payload []byte) *Whorl {
	w.cmds <- &cmd{
		cmd:     cmdShout,
		key:     group,
		payload: payload,
	}
	return w
}

// Whispers sends a formatted string to a single peer specified as UUID
// string.
func (w *Whorl) Whispers(peer string, format string, args ...interface{}) *Whorl {
	payload := fmt.Sprintf(format, args...)
	w.cmds <- &cmd{
		cmd:     cmdWhisper,
		key:     peer,
		payload: []byte(payload),
	}
	return w
}

// Shouts sends a formatted string to a named group.
func (w *Whorl) Shouts(group string, format string, args ...interface{}) *Whorl {
	payload := fmt.Sprintf(format, args...)
	w.cmds <- &cmd{
		cmd:     cmdShout,
		key:     group,
		payload: []byte(payload),
	}
	return w
}

// Peers returns the UUIDs of the peers we currently know.
func (w *Whorl) Peers() []string {
	w.cmds <- &cmd{cmd: cmdPeers}
	out := <-w.cmds

	peers, _ := out.payload.([]string)
	return peers
}

// PeerGroups returns the names of the groups remote peers have joined. A
// group stays listed after its last member leaves.
func (w *Whorl) PeerGroups() []string {
	w.cmds <- &cmd{cmd: cmdPeerGroups}
	out := <-w.cmds

	groups, _ := out.payload.([]string)
	return groups
}

// OwnGroups returns the names of the groups we joined.
func (w *Whorl) OwnGroups() []string {
	w.cmds <- &cmd{cmd: cmdOwnGroups}
	out := <-w.cmds

	groups, _ := out.payload.([]string)
	return groups
}

// PeerEndpoint returns the endpoint of the specified peer, or an empty
// string if the peer is unknown.
func (w *Whorl) PeerEndpoint(peer string) string {
	w.cmds <- &cmd{
		cmd: cmdPeerEndpoint,
		key: peer,
	}
	out := <-w.cmds

	return out.payload.(string)
}

// PeerName returns the name of the specified peer, or an empty string if
// the peer is unknown.
func (w *Whorl) PeerName(peer string) string {
	w.cmds <- &cmd{
		cmd: cmdPeerName,
		key: peer,
	}
	out := <-w.cmds

	return out.payload.(string)
}

// PeerHeader returns the named header of the specified peer, or an empty
// string if the peer is unknown or has no such header.
func (w *Whorl) PeerHeader(peer, key string) string {
	w.cmds <- &cmd{
		cmd:     cmdPeerHeader,
		key:     peer,
		payload: key,
	}
	out := <-w.cmds

	return out.payload.(string)
}

// Dump prints node information.
func (w *Whorl) Dump() *Whorl {
	w.cmds <- &cmd{cmd: cmdDump}
	return w
}

// Terminate stops the node's event loop. The node cannot be used
// afterwards.
func (w *Whorl) Terminate() {
	w.cmds <- &cmd{cmd: cmdTerm}
}
