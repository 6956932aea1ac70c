package database

import (
	"database/sql"
	"errors"
	"time"

	"github.com/npezzotti/go-relay/internal/types"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = sql.ErrNoRows

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// UserDirectory is the durable record of accounts.
type UserDirectory interface {
	CreateAccount(accountParams CreateAccountParams) (User, error)
	UpdateAccount(params UpdateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	ListAccounts() ([]User, error)
	UpdateLastSeen(accountId int, lastSeen time.Time) error
	UpdateAccountStatus(accountId int, status string) (User, error)
	UpdateAccountRole(accountId int, role string) (User, error)
	UpdatePassword(accountId int, passwordHash string) error
}

// MessageStore is the durable message log.
type MessageStore interface {
	CreateMessage(params CreateMessageParams) (Message, error)
	GetMessageById(id string) (Message, error)
	// GetConversation returns up to limit messages exchanged between the two
	// accounts and created strictly before the given time, newest first.
	GetConversation(accountId, peerId int, before time.Time, limit int) ([]Message, error)
	// UpdateMessageStatus moves a message forward to status and reports
	// whether the stored status was earlier in the delivery order.
	UpdateMessageStatus(id string, status types.MessageStatus, at time.Time) (bool, error)
	// MarkDelivered moves every message addressed to receiverId that is still
	// sent to delivered and returns the affected messages.
	MarkDelivered(receiverId int, at time.Time) ([]Message, error)
	UpdateReactions(id string, reactions []types.Reaction) error
}

type RelayRepository interface {
	UserDirectory
	MessageStore
	Ping() error
}
