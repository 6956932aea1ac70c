package database

import (
	"time"

	"github.com/npezzotti/go-relay/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockRelayRepository struct {
	mock.Mock
}

func (m *MockRelayRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRelayRepository) CreateAccount(accountParams CreateAccountParams) (User, error) {
	args := m.Called(accountParams)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRelayRepository) UpdateAccount(params UpdateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRelayRepository) GetAccountById(userId int) (User, error) {
	args := m.Called(userId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRelayRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRelayRepository) ListAccounts() ([]User, error) {
	args := m.Called()
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockRelayRepository) UpdateLastSeen(accountId int, lastSeen time.Time) error {
	args := m.Called(accountId, lastSeen)
	return args.Error(0)
}
func (m *MockRelayRepository) UpdateAccountStatus(accountId int, status string) (User, error) {
	args := m.Called(accountId, status)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRelayRepository) UpdateAccountRole(accountId int, role string) (User, error) {
	args := m.Called(accountId, role)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRelayRepository) UpdatePassword(accountId int, passwordHash string) error {
	args := m.Called(accountId, passwordHash)
	return args.Error(0)
}
func (m *MockRelayRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRelayRepository) GetMessageById(id string) (Message, error) {
	args := m.Called(id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRelayRepository) GetConversation(accountId, peerId int, before time.Time, limit int) ([]Message, error) {
	args := m.Called(accountId, peerId, before, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockRelayRepository) UpdateMessageStatus(id string, status types.MessageStatus, at time.Time) (bool, error) {
	args := m.Called(id, status, at)
	return args.Bool(0), args.Error(1)
}
func (m *MockRelayRepository) MarkDelivered(receiverId int, at time.Time) ([]Message, error) {
	args := m.Called(receiverId, at)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockRelayRepository) UpdateReactions(id string, reactions []types.Reaction) error {
	args := m.Called(id, reactions)
	return args.Error(0)
}
