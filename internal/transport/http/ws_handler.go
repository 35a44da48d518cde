package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"horizon-portal/internal/app"
	"horizon-portal/internal/domain"
)

// WSHandler streams questionnaire progress and accepts auto-saved answers
// over a websocket.
type WSHandler struct {
	service  *app.QuestionnaireService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.QuestionnaireService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string          `json:"questionId"`
	Value      json.RawMessage `json:"value"`
}

type savedPayload struct {
	QuestionID string `json:"questionId"`
	AnswerID   string `json:"answerId"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func wsError(err error) outboundMessage[any] {
	_, body := errorPayloadFor(err)
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Code: body.Error, Message: body.Message}}
}

// ServeWS authorizes the caller against the questionnaire before upgrading,
// then pushes a progress message after every change to its answers or status.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	id := IdentityFrom(r.Context())
	questionnaireID := r.PathValue("id")

	updates, cancel, err := h.service.Subscribe(r.Context(), id, questionnaireID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	h.serve(r.Context(), conn, id, questionnaireID, updates)
}

// wsConn is the part of *websocket.Conn a session uses.
type wsConn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
}

// serve runs one session until the client disconnects or a write fails.
func (h *WSHandler) serve(ctx context.Context, conn wsConn, id domain.Identity, questionnaireID string, updates <-chan domain.Progress) {
	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// single writer goroutine; gorilla connections allow one concurrent writer
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "progress", Payload: update}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	// push reports false once the writer has stopped
	push := func(msg outboundMessage[any]) bool {
		select {
		case send <- msg:
			return true
		case <-writerDone:
			return false
		}
	}

	for open := true; open; {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				open = push(wsError(domain.Invalid("invalid answer payload")))
				continue
			}
			answerID, err := h.service.SaveAnswer(ctx, id, questionnaireID, payload.QuestionID, payload.Value)
			if err != nil {
				open = push(wsError(err))
				continue
			}
			open = push(outboundMessage[any]{Type: "saved", Payload: savedPayload{QuestionID: payload.QuestionID, AnswerID: answerID}})
		case "submit":
			pq, err := h.service.Submit(ctx, id, questionnaireID)
			if err != nil {
				open = push(wsError(err))
				continue
			}
			open = push(outboundMessage[any]{Type: "submitted", Payload: pq})
		default:
			open = push(wsError(domain.Invalid("unsupported message type %q", inbound.Type)))
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}
