package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ayusman/formcheck/internal/app"
	"github.com/ayusman/formcheck/internal/delivery"
	"github.com/ayusman/formcheck/internal/deviation"
	"github.com/ayusman/formcheck/internal/session"
)

// Websocket events.
const (
	EventFrame          = "frame"
	EventEndSession     = "end_session"
	EventAnnotatedFrame = "annotated_frame"
	EventSessionSaved   = "session_saved"
	EventSessionError   = "session_error"
)

// maxMessageSize bounds one incoming message, a base64 camera frame.
const maxMessageSize = 8 << 20

// Message is the envelope of every websocket message in both directions.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EndSessionRequest is the data of an end_session event.
type EndSessionRequest struct {
	UserID    string `json:"user_id"`
	ProgramID string `json:"program_id"`
}

// AnnotatedFrame is the data of an annotated_frame event.
type AnnotatedFrame struct {
	Image       string            `json:"image"`
	Detected    bool              `json:"detected"`
	Compared    bool              `json:"compared"`
	Deviations  []deviation.Entry `json:"deviations"`
	TotalErrors int               `json:"total_errors"`
}

// SessionSaved is the data of a session_saved event.
type SessionSaved struct {
	Message string `json:"message"`
}

// SessionError is the data of a session_error event.
type SessionError struct {
	Error string `json:"error"`
}

// SessionHandler runs one analysis session per websocket connection.
//
// The client sends frame events carrying a base64 JPEG and receives an
// annotated_frame for each one. An end_session event finalizes the session and
// delivers its report; the connection may then continue with a fresh session.
// Closing the connection abandons whatever session is open.
type SessionHandler struct {
	service  Service
	upgrader websocket.Upgrader
}

// NewSessionHandler creates a SessionHandler. allowedOrigin restricts browser
// clients to one origin; empty or "*" accepts any.
func NewSessionHandler(service Service, allowedOrigin string) *SessionHandler {
	return &SessionHandler{
		service: service,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" || allowedOrigin == "*" {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
	}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	id := uuid.New().String()
	h.service.StartSession(id)
	log.Printf("Session %s connected from %s", id, r.RemoteAddr)
	defer h.service.AbandonSession(id)

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Session %s read error: %v", id, err)
			}
			return
		}

		var reply *Message
		switch msg.Event {
		case EventFrame:
			reply = h.handleFrame(r, id, msg.Data)
		case EventEndSession:
			reply = h.handleEndSession(r, id, msg.Data)
		default:
			log.Printf("Session %s: unknown event %q", id, msg.Event)
			continue
		}

		if reply == nil {
			continue
		}
		if err := conn.WriteJSON(reply); err != nil {
			log.Printf("Session %s write error: %v", id, err)
			return
		}
	}
}

// handleFrame scores one frame. Frames that cannot be processed get no reply.
func (h *SessionHandler) handleFrame(r *http.Request, id string, data json.RawMessage) *Message {
	var image string
	if err := json.Unmarshal(data, &image); err != nil {
		log.Printf("Session %s: invalid frame payload: %v", id, err)
		return nil
	}

	res, err := h.service.ProcessFrame(r.Context(), id, image)
	if err != nil {
		log.Printf("Session %s: frame dropped: %v", id, err)
		return nil
	}

	deviations := res.Deviations
	if deviations == nil {
		deviations = []deviation.Entry{}
	}
	return newMessage(EventAnnotatedFrame, AnnotatedFrame{
		Image:       res.Image,
		Detected:    res.Detected,
		Compared:    res.Compared,
		Deviations:  deviations,
		TotalErrors: res.TotalErrors,
	})
}

// handleEndSession finalizes the session and reports the outcome. Once the
// session is finalized a new one is started for the same connection.
func (h *SessionHandler) handleEndSession(r *http.Request, id string, data json.RawMessage) *Message {
	var req EndSessionRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return newMessage(EventSessionError, SessionError{Error: "invalid end_session payload"})
		}
	}

	_, err := h.service.EndSession(r.Context(), id, req.UserID, req.ProgramID)
	switch {
	case err == nil:
		h.service.StartSession(id)
		return newMessage(EventSessionSaved, SessionSaved{Message: "Session logged successfully"})
	case errors.Is(err, session.ErrMissingSubjectID):
		return newMessage(EventSessionError, SessionError{Error: session.ErrMissingSubjectID.Error()})
	case errors.Is(err, delivery.ErrDeliveryFailed):
		h.service.StartSession(id)
		return newMessage(EventSessionError, SessionError{Error: app.DeliveryMessage(err)})
	default:
		log.Printf("Session %s: end failed: %v", id, err)
		h.service.StartSession(id)
		return newMessage(EventSessionError, SessionError{Error: "Failed to end session"})
	}
}

func newMessage(event string, data any) *Message {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Printf("Failed to encode %s: %v", event, err)
		return nil
	}
	return &Message{Event: event, Data: raw}
}
