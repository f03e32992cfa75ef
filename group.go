package whorl

// group tracks which peers are in one named group. Members are held as
// UUID references into the node's peer table, never as owning pointers;
// the node resolves them when it fans a message out.
type group struct {
	name    string
	members map[string]struct{}
}

// newGroup creates a new, empty group.
func newGroup(name string) *group {
	return &group{
		name:    name,
		members: make(map[string]struct{}),
	}
}

// join adds a peer to the group. Duplicate joins are no-ops.
func (g *group) join(identity string) {
	g.members[identity] = struct{}{}
}

// leave removes a peer from the group.
func (g *group) leave(identity string) {
	delete(g.members, identity)
}

// contains reports whether a peer is in the group.
func (g *group) contains(identity string) bool {
	_, ok := g.members[identity]
	return ok
}

// size returns the number of members.
func (g *group) size() int {
	return len(g.members)
}
