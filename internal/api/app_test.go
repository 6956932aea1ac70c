package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-relay/internal/auth"
	"github.com/npezzotti/go-relay/internal/config"
	"github.com/npezzotti/go-relay/internal/database"
	"github.com/npezzotti/go-relay/internal/server"
	"github.com/npezzotti/go-relay/internal/stats"
	"github.com/npezzotti/go-relay/internal/testutil"
	"github.com/npezzotti/go-relay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testConfig = &config.Config{
	ServerAddr:     "localhost:8080",
	DatabaseDSN:    "dsn",
	SigningKey:     []byte("test-signing-key"),
	AllowedOrigins: []string{"http://localhost:3000"},
}

func newTestApp(t *testing.T, db *database.MockRelayRepository) *RelayApp {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return(nil).Times(4)
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()

	logger := testutil.TestLogger(t)
	cs, err := server.NewChatServer(logger, db, su)
	require.NoError(t, err, "failed to create chat server")

	return NewRelayApp(http.NewServeMux(), logger, cs, db, testConfig)
}

func activeUser(id int, role types.Role) database.User {
	return database.User{
		Id:                id,
		Username:          "user" + string(rune('0'+id)),
		EmailAddress:      "user@example.com",
		Role:              string(role),
		Status:            string(types.AccountActive),
		PasswordChangedAt: time.Now().Add(-time.Hour),
		CreatedAt:         time.Now().Add(-time.Hour).UTC(),
		UpdatedAt:         time.Now().Add(-time.Hour).UTC(),
	}
}

func (s *RelayApp) testToken(t *testing.T, u database.User) string {
	token, err := s.tokens.Issue(u.ToUser(), time.Hour)
	require.NoError(t, err)
	return token
}

func decodeApiError(t *testing.T, rr *httptest.ResponseRecorder) ApiError {
	var e ApiError
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&e), "failed to decode ApiError response")
	assert.Equal(t, e.StatusCode, rr.Code, "expected status code to match")
	return e
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	if s, ok := v.(string); ok {
		return bytes.NewBufferString(s)
	}

	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(b)
}

func TestNewRelayApp(t *testing.T) {
	mux := http.NewServeMux()
	logger := testutil.TestLogger(t)
	cs := &server.ChatServer{}
	db := &database.MockRelayRepository{}

	app := NewRelayApp(mux, logger, cs, db, testConfig)

	assert.NotNil(t, app, "expected app to be initialized")
	assert.NotNil(t, app.mux, "expected mux to be initialized")
	assert.Equal(t, logger, app.log, "expected logger to be set")
	assert.Equal(t, db, app.db, "expected db to be set")
	assert.Equal(t, cs, app.cs, "expected chat server to be set")
	token, err := auth.NewTokenIssuer(testConfig.SigningKey).Issue(types.User{Id: 1}, time.Hour)
	require.NoError(t, err)
	_, err = app.tokens.Verify(token)
	assert.NoError(t, err, "expected tokens to be verified with the configured key")
	assert.Equal(t, testConfig.ServerAddr, app.mux.Addr, "expected server address to match config")
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
}

func readEvent(t *testing.T, conn *websocket.Conn) server.ServerMessage {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg server.ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebsocketHandshake(t *testing.T) {
	alice := activeUser(1, types.RoleUser)

	db := &database.MockRelayRepository{}
	db.On("GetAccountById", 1).Return(alice, nil)
	db.On("UpdateLastSeen", 1, mock.Anything).Return(nil)
	db.On("MarkDelivered", 1, mock.Anything).Return([]database.Message(nil), nil)

	app := newTestApp(t, db)
	srv := httptest.NewServer(app.mux.Handler)
	defer srv.Close()

	t.Run("missing token is refused before upgrade", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
		assert.ErrorIs(t, err, websocket.ErrBadHandshake)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("invalid token is refused before upgrade", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token=garbage"), nil)
		assert.ErrorIs(t, err, websocket.ErrBadHandshake)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("disallowed origin", func(t *testing.T) {
		header := http.Header{}
		header.Set("Origin", "http://evil.example.com")
		header.Set("Authorization", "Bearer "+app.testToken(t, alice))

		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), header)
		assert.ErrorIs(t, err, websocket.ErrBadHandshake)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("token in query", func(t *testing.T) {
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token="+app.testToken(t, alice)), nil)
		require.NoError(t, err)
		defer conn.Close()
		assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

		msg := readEvent(t, conn)
		require.NotNil(t, msg.UserOnline)
		assert.Equal(t, 1, msg.UserOnline.UserId)
		assert.True(t, app.cs.IsOnline(1))
	})
}

func TestWebsocketRefusedDuringShutdown(t *testing.T) {
	alice := activeUser(1, types.RoleUser)

	db := &database.MockRelayRepository{}
	db.On("GetAccountById", 1).Return(alice, nil)

	app := newTestApp(t, db)
	srv := httptest.NewServer(app.mux.Handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, app.cs.Shutdown(ctx))

	header := http.Header{}
	header.Set("Authorization", "Bearer "+app.testToken(t, alice))
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), header)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "expected a try-again-later close, got %v", err)
	assert.False(t, app.cs.IsOnline(1))
	db.AssertNotCalled(t, "UpdateLastSeen", mock.Anything, mock.Anything)
}

func TestAdminPasswordResetForcesLogout(t *testing.T) {
	alice := activeUser(1, types.RoleUser)
	admin := activeUser(2, types.RoleAdmin)

	db := &database.MockRelayRepository{}
	db.On("GetAccountById", 1).Return(alice, nil)
	db.On("GetAccountById", 2).Return(admin, nil)
	db.On("UpdateLastSeen", 1, mock.Anything).Return(nil)
	db.On("MarkDelivered", 1, mock.Anything).Return([]database.Message(nil), nil)
	db.On("UpdatePassword", 1, mock.AnythingOfType("string")).Return(nil).Once()

	app := newTestApp(t, db)
	srv := httptest.NewServer(app.mux.Handler)
	defer srv.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+app.testToken(t, alice))
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), header)
	require.NoError(t, err)
	defer conn.Close()

	readEvent(t, conn)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/admin/users/1/password",
		jsonBody(t, SetPasswordRequest{Password: "a-new-password"}))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+app.testToken(t, admin))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	msg := readEvent(t, conn)
	require.NotNil(t, msg.ForceLogout, "expected force_logout on the open session")
	assert.Equal(t, "password reset by administrator", msg.ForceLogout.Reason)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "expected the relay to close the session, got %v", err)

	db.AssertExpectations(t)
}
