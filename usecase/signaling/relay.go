package signaling

import (
	"interview-coordinator/domain"
	"interview-coordinator/infrastructure/logger"
	"interview-coordinator/infrastructure/metrics"
	"interview-coordinator/usecase/room"
)

// Relay forwards call-setup and chat messages between the members of a room.
// It never looks inside payloads and keeps no call state: a receiver that
// gets candidates before its remote description must queue them itself.
type Relay struct {
	rooms *room.Registry
	log   logger.Logger
}

func NewRelay(rooms *room.Registry, log logger.Logger) *Relay {
	return &Relay{
		rooms: rooms,
		log:   log.WithFields(map[string]interface{}{"component": "signaling-relay"}),
	}
}

func isSignaling(t room.MessageType) bool {
	return t == room.TypeOffer || t == room.TypeAnswer || t == room.TypeCandidate
}

// Forward delivers msg to every other member of its target room and returns
// the number of receivers. Undeliverable messages are dropped without error;
// only an unsupported kind is reported back to the sender.
func (r *Relay) Forward(sender room.Conn, msg room.Message) int {
	kind := string(msg.Type)
	target := msg.Target
	if target == "" {
		target = msg.SessionID
	}

	participantID, ok := r.rooms.Participant(target, sender)
	if !ok {
		r.drop(kind, target, "sender not in room")
		return 0
	}
	if isSignaling(msg.Type) && r.rooms.Ended(target) {
		r.drop(kind, target, "interview ended")
		return 0
	}

	out := room.Message{
		Type:      msg.Type,
		SessionID: target,
		Target:    target,
		From:      participantID,
		Payload:   msg.Payload,
	}

	delivered := r.rooms.Broadcast(target, out, sender)
	if delivered == 0 {
		r.drop(kind, target, "no peer present")
		return 0
	}

	metrics.RelayMessages.WithLabelValues(kind, "delivered").Inc()
	return delivered
}

// Relay validates the message kind before forwarding it.
func (r *Relay) Relay(sender room.Conn, msg room.Message) (int, error) {
	if !isSignaling(msg.Type) && msg.Type != room.TypeChatMessage {
		return 0, domain.NewValidationError("message type %q cannot be relayed", msg.Type)
	}
	return r.Forward(sender, msg), nil
}

// End tells the peer the interview is over and stops further call setup in
// the room. It has no persistence side effect and does not cancel evaluations.
func (r *Relay) End(sender room.Conn, sessionID string) int {
	if _, ok := r.rooms.Participant(sessionID, sender); !ok {
		r.drop(string(room.TypeEndInterview), sessionID, "sender not in room")
		return 0
	}
	delivered := r.Forward(sender, room.Message{Type: room.TypeEndInterview, SessionID: sessionID})
	r.rooms.End(sessionID)
	return delivered
}

func (r *Relay) drop(kind, sessionID, reason string) {
	metrics.RelayMessages.WithLabelValues(kind, "dropped").Inc()
	r.log.Debug("message dropped", map[string]interface{}{
		"kind":      kind,
		"sessionId": sessionID,
		"reason":    reason,
	})
}
