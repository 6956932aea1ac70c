package database

import (
	"time"

	"github.com/npezzotti/go-relay/internal/types"
)

type User struct {
	Id                int
	Username          string
	EmailAddress      string
	PasswordHash      string
	Role              string
	Status            string
	LastSeen          time.Time
	PasswordChangedAt time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type ReplyPreview struct {
	Id        string
	SenderId  int
	Body      string
	MediaType string
}

type Message struct {
	Id         string
	SenderId   int
	ReceiverId int
	Body       string
	MediaUrl   string
	MediaType  string
	MediaName  string
	ReplyToId  string
	ReplyTo    *ReplyPreview
	Status     types.MessageStatus
	SeenAt     time.Time
	Reactions  []types.Reaction
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type UpdateAccountParams struct {
	UserId       int
	Username     string
	PasswordHash string
}

type CreateMessageParams struct {
	SenderId   int
	ReceiverId int
	Body       string
	MediaUrl   string
	MediaType  string
	MediaName  string
	ReplyToId  string
	CreatedAt  time.Time
}

func (u User) ToUser() types.User {
	return types.User{
		Id:           u.Id,
		Username:     u.Username,
		EmailAddress: u.EmailAddress,
		Role:         types.Role(u.Role),
		Status:       types.AccountStatus(u.Status),
		LastSeen:     u.LastSeen,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func (m Message) ToMessage() types.Message {
	msg := types.Message{
		Id:         m.Id,
		SenderId:   m.SenderId,
		ReceiverId: m.ReceiverId,
		Body:       m.Body,
		MediaUrl:   m.MediaUrl,
		MediaType:  m.MediaType,
		MediaName:  m.MediaName,
		Status:     m.Status,
		Reactions:  m.Reactions,
		CreatedAt:  m.CreatedAt,
	}

	if msg.Reactions == nil {
		msg.Reactions = []types.Reaction{}
	}

	if !m.SeenAt.IsZero() {
		seenAt := m.SeenAt
		msg.SeenAt = &seenAt
	}

	if m.ReplyTo != nil {
		msg.ReplyTo = &types.ReplyPreview{
			Id:        m.ReplyTo.Id,
			SenderId:  m.ReplyTo.SenderId,
			Body:      m.ReplyTo.Body,
			MediaType: m.ReplyTo.MediaType,
		}
	}

	return msg
}
