package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"interview-coordinator/domain"
	"interview-coordinator/infrastructure/config"
	"interview-coordinator/infrastructure/logger"
	"interview-coordinator/usecase/questions"
	"interview-coordinator/usecase/room"
	"interview-coordinator/usecase/signaling"
)

// QuestionDistributor broadcasts an interviewer's question batch.
type QuestionDistributor interface {
	Distribute(ctx context.Context, sessionID string, sender room.Conn, batch []questions.Input) ([]domain.QuestionItem, error)
}

type joinPayload struct {
	ParticipantID string `json:"participantId"`
}

type submitPayload struct {
	Answers []domain.Answer `json:"answers"`
}

// WSHandler serves the real-time channel on /ws.
type WSHandler struct {
	rooms       *room.Registry
	relay       *signaling.Relay
	distributor QuestionDistributor
	answers     AnswerService
	sessions    SessionService
	cfg         config.RoomConfig
	upgrader    websocket.Upgrader
	log         logger.Logger
}

func NewWSHandler(
	router *gin.Engine,
	rooms *room.Registry,
	relay *signaling.Relay,
	distributor QuestionDistributor,
	answers AnswerService,
	sessions SessionService,
	cfg config.Config,
	log logger.Logger,
) *WSHandler {
	h := &WSHandler{
		rooms:       rooms,
		relay:       relay,
		distributor: distributor,
		answers:     answers,
		sessions:    sessions,
		cfg:         cfg.Room,
		log:         log.WithFields(map[string]interface{}{"component": "ws-handler"}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.Server.AllowedOrigins),
	}
	router.GET("/ws", h.Serve)
	return h
}

// originChecker allows every origin when the list is empty.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.TrimSpace(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}

func (h *WSHandler) Serve(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed", nil)
		return
	}

	conn := newWSConn(ws, h.cfg.SendBuffer, h.cfg.WriteTimeout, h.cfg.PongTimeout, h.log)
	go conn.writePump()

	conn.readPump(
		func(msg room.Message) { h.dispatch(conn, msg) },
		func(err error) {
			h.sendError(conn, "", domain.NewValidationError("malformed message: %s", err.Error()))
		},
	)
	h.rooms.Leave(conn)
}

// dispatch routes one inbound message. Each message runs to completion before
// the next is read, which keeps a sender's stream in order.
func (h *WSHandler) dispatch(conn *wsConn, msg room.Message) {
	ctx := context.Background()

	switch msg.Type {
	case room.TypeJoinRoom:
		h.join(ctx, conn, msg)

	case room.TypeOffer, room.TypeAnswer, room.TypeCandidate, room.TypeChatMessage:
		if _, err := h.relay.Relay(conn, msg); err != nil {
			h.sendError(conn, msg.SessionID, err)
		}

	case room.TypeEndInterview:
		h.relay.End(conn, msg.SessionID)

	case room.TypeSendQuestions:
		if err := h.requireRole(conn, msg.SessionID, room.RoleInterviewer); err != nil {
			h.sendError(conn, msg.SessionID, err)
			return
		}
		var batch questions.Batch
		if err := decodePayload(msg, &batch); err != nil {
			h.sendError(conn, msg.SessionID, err)
			return
		}
		if _, err := h.distributor.Distribute(ctx, msg.SessionID, conn, batch.Questions); err != nil {
			h.sendError(conn, msg.SessionID, err)
		}

	case room.TypeSubmitAnswers:
		if err := h.requireRole(conn, msg.SessionID, room.RoleCandidate); err != nil {
			h.sendError(conn, msg.SessionID, err)
			return
		}
		var payload submitPayload
		if err := decodePayload(msg, &payload); err != nil {
			h.sendError(conn, msg.SessionID, err)
			return
		}
		if _, err := h.answers.Submit(ctx, msg.SessionID, payload.Answers); err != nil {
			h.sendError(conn, msg.SessionID, err)
		}

	default:
		h.sendError(conn, msg.SessionID, domain.NewValidationError("unsupported message type %q", msg.Type))
	}
}

// requireRole checks that conn joined sessionID in the given role.
func (h *WSHandler) requireRole(conn *wsConn, sessionID string, want room.Role) error {
	role, ok := h.rooms.Role(sessionID, conn)
	if !ok {
		return domain.ErrNotMember
	}
	if role != want {
		return fmt.Errorf("%w: only the %s may do this", domain.ErrForbidden, want)
	}
	return nil
}

// join admits only the session's candidate and interviewer. The session moves
// to in-progress once both are connected.
func (h *WSHandler) join(ctx context.Context, conn *wsConn, msg room.Message) {
	var payload joinPayload
	if err := decodePayload(msg, &payload); err != nil {
		h.sendError(conn, msg.SessionID, err)
		return
	}

	sess, err := h.sessions.Get(ctx, msg.SessionID)
	if err != nil {
		h.sendError(conn, msg.SessionID, err)
		return
	}

	var role room.Role
	switch payload.ParticipantID {
	case sess.InterviewerID:
		role = room.RoleInterviewer
	case sess.CandidateID:
		role = room.RoleCandidate
	default:
		h.sendError(conn, msg.SessionID, domain.ErrNotMember)
		return
	}

	result, err := h.rooms.Join(msg.SessionID, payload.ParticipantID, role, conn)
	if err != nil {
		h.sendError(conn, msg.SessionID, err)
		return
	}

	reply, err := room.NewMessage(room.TypeRoomJoined, msg.SessionID, room.JoinedPayload{
		PeerPresent: result.PeerPresent,
		Peers:       result.Peers,
	})
	if err == nil {
		conn.Send(reply)
	}

	if result.PeerPresent {
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := h.sessions.MarkStarted(sctx, msg.SessionID); err != nil {
			h.log.WithError(err).Warn("failed to mark session started", map[string]interface{}{
				"sessionId": msg.SessionID,
			})
		}
	}
}

func decodePayload(msg room.Message, v any) error {
	if len(msg.Payload) == 0 {
		return domain.NewValidationError("%s requires a payload", msg.Type)
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return domain.NewValidationError("invalid %s payload: %s", msg.Type, err.Error())
	}
	return nil
}

func (h *WSHandler) sendError(conn *wsConn, sessionID string, err error) {
	std := domain.Normalize(err)
	if !errors.Is(err, domain.ErrValidation) && std.Code != domain.ErrCodeNotMember {
		h.log.WithError(err).Warn("request failed", map[string]interface{}{"sessionId": sessionID})
	}
	msg, mErr := room.NewMessage(room.TypeError, sessionID, room.ErrorPayload{
		Code:      string(std.Code),
		Message:   std.Message,
		Retryable: std.Retryable,
	})
	if mErr != nil {
		return
	}
	conn.Send(msg)
}
