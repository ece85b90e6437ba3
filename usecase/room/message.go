package room

import "encoding/json"

type MessageType string

const (
	TypeJoinRoom         MessageType = "join-room"
	TypeRoomJoined       MessageType = "room-joined"
	TypePeerJoined       MessageType = "peer-joined"
	TypePeerLeft         MessageType = "peer-left"
	TypeOffer            MessageType = "offer"
	TypeAnswer           MessageType = "answer"
	TypeCandidate        MessageType = "connectivity-candidate"
	TypeSendQuestions    MessageType = "send-questions"
	TypeReceiveQuestions MessageType = "receive-questions"
	TypeSubmitAnswers    MessageType = "submit-answers"
	TypeAnswersReceived  MessageType = "answers-received"
	TypeEndInterview     MessageType = "end-interview"
	TypeChatMessage      MessageType = "chat-message"
	TypeError            MessageType = "error"
)

// Message is the envelope of every real-time message. Payload is opaque to
// the relay.
type Message struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Target    string          `json:"target,omitempty"`
	From      string          `json:"from,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewMessage marshals payload into a message. Marshal errors can only come
// from unsupported Go types, so they are returned rather than hidden.
func NewMessage(t MessageType, sessionID string, payload any) (Message, error) {
	msg := Message{Type: t, SessionID: sessionID}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	msg.Payload = raw
	return msg, nil
}

type PeerPayload struct {
	ParticipantID string `json:"participantId"`
	Role          Role   `json:"role,omitempty"`
}

type JoinedPayload struct {
	PeerPresent bool          `json:"peerPresent"`
	Peers       []PeerPayload `json:"peers"`
}

type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}
