package room

import (
	"fmt"
	"sync"

	"interview-coordinator/domain"
	"interview-coordinator/infrastructure/logger"
	"interview-coordinator/infrastructure/metrics"
)

// DefaultCapacity is one interviewer plus one candidate.
const DefaultCapacity = 2

type Role string

const (
	RoleInterviewer Role = "interviewer"
	RoleCandidate   Role = "candidate"
)

// Conn is a live participant connection. Send must not block: a connection
// that cannot take the message drops it and returns false.
type Conn interface {
	Send(msg Message) bool
	Closed() bool
}

type member struct {
	id   string
	role Role
	conn Conn
}

type room struct {
	members     []member
	distributed map[string]struct{}
	ended       bool
}

type membership struct {
	sessionID     string
	participantID string
}

// departure is a member dropped while the lock was held; notify gets the
// peer-left notice once it is released.
type departure struct {
	membership
	notify []Conn
}

// JoinResult tells the joiner whether call setup can start.
type JoinResult struct {
	PeerPresent bool
	Peers       []PeerPayload
}

// Registry tracks the connections of every active room. State lives only in
// process memory; after a restart clients must rejoin.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*room
	byConn   map[Conn]membership
	capacity int
	log      logger.Logger
}

func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		rooms:    make(map[string]*room),
		byConn:   make(map[Conn]membership),
		capacity: DefaultCapacity,
		log:      log.WithFields(map[string]interface{}{"component": "room-registry"}),
	}
}

// Join registers conn under sessionID. A participant joining again replaces
// its previous connection; a third distinct participant gets ErrRoomFull.
// Existing members are told about the newcomer, and about any member that
// was dropped on the way.
func (r *Registry) Join(sessionID, participantID string, role Role, conn Conn) (JoinResult, error) {
	if sessionID == "" || participantID == "" {
		return JoinResult{}, domain.NewValidationError("sessionId and participantId are required")
	}

	r.mu.Lock()
	var departed []departure
	if prev, ok := r.byConn[conn]; ok && (prev.sessionID != sessionID || prev.participantID != participantID) {
		departed = append(departed, departure{membership: prev, notify: r.removeLocked(conn)})
	}

	rm := r.rooms[sessionID]
	if rm == nil {
		rm = &room{distributed: make(map[string]struct{})}
		r.rooms[sessionID] = rm
		metrics.ActiveRooms.Inc()
	}
	evicted := r.evictStaleLocked(rm)

	replaced := false
	for i := range rm.members {
		if rm.members[i].id == participantID {
			if old := rm.members[i].conn; old != conn {
				delete(r.byConn, old)
			}
			rm.members[i] = member{id: participantID, role: role, conn: conn}
			replaced = true
			break
		}
	}
	full := !replaced && len(rm.members) >= r.capacity
	if !replaced && !full {
		rm.members = append(rm.members, member{id: participantID, role: role, conn: conn})
	}
	if !full {
		r.byConn[conn] = membership{sessionID: sessionID, participantID: participantID}
	}

	var peers []member
	peerConns := make([]Conn, 0, len(rm.members))
	for _, m := range rm.members {
		if m.id != participantID {
			peers = append(peers, m)
			peerConns = append(peerConns, m.conn)
		}
	}
	for _, id := range evicted {
		departed = append(departed, departure{
			membership: membership{sessionID: sessionID, participantID: id},
			notify:     peerConns,
		})
	}
	r.mu.Unlock()

	for _, d := range departed {
		r.notifyLeft(d.sessionID, d.participantID, d.notify)
	}
	if full {
		return JoinResult{}, fmt.Errorf("%w: session %s", domain.ErrRoomFull, sessionID)
	}

	result := JoinResult{PeerPresent: len(peers) > 0}
	for _, p := range peers {
		result.Peers = append(result.Peers, PeerPayload{ParticipantID: p.id, Role: p.role})
	}

	if notice, err := NewMessage(TypePeerJoined, sessionID, PeerPayload{ParticipantID: participantID, Role: role}); err == nil {
		for _, c := range peerConns {
			c.Send(notice)
		}
	}

	r.log.Debug("participant joined", map[string]interface{}{
		"sessionId":     sessionID,
		"participantId": participantID,
		"role":          role,
		"reconnect":     replaced,
		"peerPresent":   result.PeerPresent,
	})
	return result, nil
}

// Leave removes conn from its room and tells the remaining member. It is a
// no-op for connections that never joined.
func (r *Registry) Leave(conn Conn) {
	r.mu.Lock()
	ms, ok := r.byConn[conn]
	if !ok {
		r.mu.Unlock()
		return
	}
	remaining := r.removeLocked(conn)
	r.mu.Unlock()

	r.notifyLeft(ms.sessionID, ms.participantID, remaining)

	r.log.Debug("participant left", map[string]interface{}{
		"sessionId":     ms.sessionID,
		"participantId": ms.participantID,
	})
}

// removeLocked drops conn and returns the connections still in its room.
func (r *Registry) removeLocked(conn Conn) []Conn {
	ms, ok := r.byConn[conn]
	if !ok {
		return nil
	}
	delete(r.byConn, conn)

	rm := r.rooms[ms.sessionID]
	if rm == nil {
		return nil
	}

	kept := rm.members[:0]
	for _, m := range rm.members {
		if m.conn != conn {
			kept = append(kept, m)
		}
	}
	rm.members = kept

	if len(rm.members) == 0 {
		delete(r.rooms, ms.sessionID)
		metrics.ActiveRooms.Dec()
		return nil
	}

	out := make([]Conn, 0, len(rm.members))
	for _, m := range rm.members {
		out = append(out, m.conn)
	}
	return out
}

func (r *Registry) notifyLeft(sessionID, participantID string, to []Conn) {
	if len(to) == 0 {
		return
	}
	notice, err := NewMessage(TypePeerLeft, sessionID, PeerPayload{ParticipantID: participantID})
	if err != nil {
		return
	}
	for _, c := range to {
		c.Send(notice)
	}
}

// evictStaleLocked drops members whose connection is closed and returns
// their participant ids.
func (r *Registry) evictStaleLocked(rm *room) []string {
	var evicted []string
	kept := rm.members[:0]
	for _, m := range rm.members {
		if m.conn.Closed() {
			delete(r.byConn, m.conn)
			evicted = append(evicted, m.id)
			continue
		}
		kept = append(kept, m)
	}
	rm.members = kept
	return evicted
}

// Broadcast sends msg to every member of the room except the given
// connection and returns how many accepted it. It never blocks.
func (r *Registry) Broadcast(sessionID string, msg Message, except Conn) int {
	r.mu.RLock()
	rm := r.rooms[sessionID]
	var targets []Conn
	if rm != nil {
		for _, m := range rm.members {
			if m.conn != except {
				targets = append(targets, m.conn)
			}
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.Send(msg) {
			delivered++
		}
	}
	return delivered
}

// Participant returns the participant id conn joined sessionID with.
func (r *Registry) Participant(sessionID string, conn Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ms, ok := r.byConn[conn]
	if !ok || ms.sessionID != sessionID {
		return "", false
	}
	return ms.participantID, true
}

// Role returns the role conn joined sessionID with.
func (r *Registry) Role(sessionID string, conn Conn) (Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ms, ok := r.byConn[conn]
	if !ok || ms.sessionID != sessionID {
		return "", false
	}
	for _, m := range r.rooms[ms.sessionID].members {
		if m.conn == conn {
			return m.role, true
		}
	}
	return "", false
}

// Members lists the participant ids currently in the room.
func (r *Registry) Members(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm := r.rooms[sessionID]
	if rm == nil {
		return nil
	}
	out := make([]string, 0, len(rm.members))
	for _, m := range rm.members {
		out = append(out, m.id)
	}
	return out
}

// ClaimQuestionRefs returns the references not yet fanned out to the room
// and remembers them.
func (r *Registry) ClaimQuestionRefs(sessionID string, refs []string) map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	fresh := make(map[string]bool, len(refs))
	rm := r.rooms[sessionID]
	if rm == nil {
		for _, ref := range refs {
			fresh[ref] = true
		}
		return fresh
	}

	for _, ref := range refs {
		if _, seen := rm.distributed[ref]; seen {
			continue
		}
		rm.distributed[ref] = struct{}{}
		fresh[ref] = true
	}
	return fresh
}

// ReleaseQuestionRefs forgets claimed references, typically because the
// broadcast carrying them reached no one.
func (r *Registry) ReleaseQuestionRefs(sessionID string, refs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm := r.rooms[sessionID]
	if rm == nil {
		return
	}
	for _, ref := range refs {
		delete(rm.distributed, ref)
	}
}

// End marks the room ended; later call-setup messages are dropped.
func (r *Registry) End(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm := r.rooms[sessionID]; rm != nil {
		rm.ended = true
	}
}

func (r *Registry) Ended(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm := r.rooms[sessionID]
	return rm != nil && rm.ended
}
