package types

import (
	"fmt"
	"slices"
	"time"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
)

func (s AccountStatus) Valid() bool {
	return s == AccountActive || s == AccountInactive
}

type User struct {
	Id           int           `json:"id"`
	Username     string        `json:"username"`
	EmailAddress string        `json:"email_address,omitempty"`
	Role         Role          `json:"role,omitempty"`
	Status       AccountStatus `json:"status,omitempty"`
	Password     string        `json:"-"`
	LastSeen     time.Time     `json:"last_seen,omitempty"`
	IsOnline     bool          `json:"is_online"`
	CreatedAt    time.Time     `json:"created_at,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at,omitempty"`
}

// MessageStatus is the delivery state of a message. The numeric values
// define the total order sent < delivered < seen.
type MessageStatus int

const (
	StatusSent MessageStatus = iota
	StatusDelivered
	StatusSeen
)

var statusNames = [...]string{"sent", "delivered", "seen"}

func (s MessageStatus) String() string {
	if s < StatusSent || s > StatusSeen {
		return fmt.Sprintf("MessageStatus(%d)", int(s))
	}
	return statusNames[s]
}

// Before reports whether s precedes o in the delivery order.
func (s MessageStatus) Before(o MessageStatus) bool {
	return s < o
}

func (s MessageStatus) MarshalText() ([]byte, error) {
	if s < StatusSent || s > StatusSeen {
		return nil, fmt.Errorf("invalid message status %d", int(s))
	}
	return []byte(statusNames[s]), nil
}

func (s *MessageStatus) UnmarshalText(text []byte) error {
	st, err := ParseMessageStatus(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

func ParseMessageStatus(s string) (MessageStatus, error) {
	for i, name := range statusNames {
		if name == s {
			return MessageStatus(i), nil
		}
	}
	return 0, fmt.Errorf("unknown message status %q", s)
}

type Reaction struct {
	Emoji  string `json:"emoji"`
	UserId int    `json:"user_id"`
}

// ToggleReaction removes the reaction if the user already holds it, otherwise
// appends it. The input slice is never modified. The returned bool is true
// when the reaction was added.
func ToggleReaction(reactions []Reaction, userId int, emoji string) ([]Reaction, bool) {
	idx := slices.IndexFunc(reactions, func(r Reaction) bool {
		return r.UserId == userId && r.Emoji == emoji
	})

	out := make([]Reaction, 0, len(reactions)+1)
	if idx >= 0 {
		out = append(out, reactions[:idx]...)
		out = append(out, reactions[idx+1:]...)
		return out, false
	}

	out = append(out, reactions...)
	out = append(out, Reaction{Emoji: emoji, UserId: userId})
	return out, true
}

type ReplyPreview struct {
	Id        string `json:"id"`
	SenderId  int    `json:"sender_id"`
	Body      string `json:"message"`
	MediaType string `json:"media_type,omitempty"`
}

type Message struct {
	Id         string        `json:"id"`
	SenderId   int           `json:"sender_id"`
	ReceiverId int           `json:"receiver_id"`
	Body       string        `json:"message"`
	MediaUrl   string        `json:"media_url,omitempty"`
	MediaType  string        `json:"media_type,omitempty"`
	MediaName  string        `json:"media_name,omitempty"`
	ReplyTo    *ReplyPreview `json:"reply_to,omitempty"`
	Status     MessageStatus `json:"status"`
	SeenAt     *time.Time    `json:"seen_at,omitempty"`
	Reactions  []Reaction    `json:"reactions"`
	CreatedAt  time.Time     `json:"created_at"`
}
