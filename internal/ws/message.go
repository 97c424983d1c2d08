package ws

import "github.com/chatcore/internal/apperr"

type FrameType string

// Входящие кадры клиента.
const (
	FrameTypingStart FrameType = "typing_start"
	FrameTypingStop  FrameType = "typing_stop"
	FrameMarkRead    FrameType = "mark_read"
	FramePing        FrameType = "ping"
)

// Ответы сервера на входящие кадры (сами события доставки идут как dispatch.Event).
const (
	FramePong  FrameType = "pong"
	FrameError FrameType = "error"
)

// IncomingMessage is what the client sends to the server.
// mark_read with only conversation_id marks the whole conversation read.
type IncomingMessage struct {
	Type           FrameType `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	MessageID      string    `json:"message_id,omitempty"`
	// Ref is echoed back in the reply so the client can match it.
	Ref string `json:"ref,omitempty"`
}

// Reply answers an inbound frame. Delivery events never use this type.
type Reply struct {
	Type    FrameType `json:"type"`
	Ref     string    `json:"ref,omitempty"`
	Payload any       `json:"payload,omitempty"`
}

// ErrorPayload mirrors the HTTP error body.
type ErrorPayload struct {
	Code    apperr.Kind `json:"code"`
	Message string      `json:"message"`
}

func errorReply(ref string, err error) Reply {
	return Reply{Type: FrameError, Ref: ref, Payload: ErrorPayload{Code: apperr.KindOf(err), Message: apperr.PublicMessage(err)}}
}
