package server

import (
	"net/http"
	"time"

	"github.com/npezzotti/go-relay/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is an inbound event. Exactly one of the event fields is set.
type ClientMessage struct {
	BaseMessage
	SendMessage  *SendMessage  `json:"send_message,omitempty"`
	MessageSeen  *MessageSeen  `json:"message_seen,omitempty"`
	ReactMessage *ReactMessage `json:"react_message,omitempty"`
	Typing       *Typing       `json:"typing,omitempty"`
	StopTyping   *Typing       `json:"stop_typing,omitempty"`
	UserId       int           `json:"-"`
	client       *Client       `json:"-"`
}

func (cm *ClientMessage) GetUserId() int {
	if cm.UserId != 0 {
		return cm.UserId
	}
	if cm.client != nil {
		return cm.client.user.Id
	}
	return 0
}

type SendMessage struct {
	ReceiverId int    `json:"receiver_id"`
	Message    string `json:"message"`
	MediaUrl   string `json:"media_url,omitempty"`
	MediaType  string `json:"media_type,omitempty"`
	MediaName  string `json:"media_name,omitempty"`
	ReplyTo    string `json:"reply_to,omitempty"`
}

type MessageSeen struct {
	MessageId string `json:"message_id"`
	SenderId  int    `json:"sender_id"`
}

type ReactMessage struct {
	MessageId string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type Typing struct {
	ReceiverId int `json:"receiver_id"`
}

// ServerMessage is an outbound event or a response to a client request.
type ServerMessage struct {
	BaseMessage
	Response        *Response        `json:"response,omitempty"`
	ReceiveMessage  *types.Message   `json:"receive_message,omitempty"`
	MessageSent     *types.Message   `json:"message_sent,omitempty"`
	MessageStatus   *MessageStatus   `json:"message_status,omitempty"`
	MessageReaction *MessageReaction `json:"message_reaction,omitempty"`
	UserOnline      *PresenceChange  `json:"user_online,omitempty"`
	UserOffline     *PresenceChange  `json:"user_offline,omitempty"`
	Typing          *TypingNotice    `json:"typing,omitempty"`
	StopTyping      *TypingNotice    `json:"stop_typing,omitempty"`
	ForceLogout     *ForceLogout     `json:"force_logout,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type MessageStatus struct {
	MessageId string              `json:"message_id"`
	Status    types.MessageStatus `json:"status"`
	SeenAt    *time.Time          `json:"seen_at,omitempty"`
}

type MessageReaction struct {
	MessageId string           `json:"message_id"`
	Reactions []types.Reaction `json:"reactions"`
}

type PresenceChange struct {
	UserId   int       `json:"user_id"`
	LastSeen time.Time `json:"last_seen"`
}

type TypingNotice struct {
	SenderId int `json:"sender_id"`
}

type ForceLogout struct {
	Reason string `json:"reason,omitempty"`
}

func newResponse(id, code int, errMsg string, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        errMsg,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int, data any) *ServerMessage {
	return newResponse(id, http.StatusAccepted, "", data)
}

func ErrNotFound(id int, what string) *ServerMessage {
	return newResponse(id, http.StatusNotFound, what+" not found", nil)
}

func ErrInternalError(id int) *ServerMessage {
	return newResponse(id, http.StatusInternalServerError, "internal server error", nil)
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return newResponse(id, http.StatusServiceUnavailable, "service unavailable", nil)
}

func ErrTooManyRequests(id int) *ServerMessage {
	return newResponse(id, http.StatusTooManyRequests, "too many requests", nil)
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := newResponse(0, http.StatusBadRequest, "invalid message format", nil)
	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
