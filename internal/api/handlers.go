package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-relay/internal/auth"
	"github.com/npezzotti/go-relay/internal/database"
	"github.com/npezzotti/go-relay/internal/server"
	"github.com/npezzotti/go-relay/internal/types"
)

const minPasswordLength = 8

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	types.User
	Token string `json:"token"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type UpdateAccountRequest struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

func (s *RelayApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("json encode")
	}
}

func (s *RelayApp) writeLookupError(w http.ResponseWriter, err error) {
	errResp := storeError(err)
	if errResp.StatusCode == http.StatusInternalServerError {
		s.log.WithError(err).Error("store")
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *RelayApp) healthCheck(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.WithError(err).Error("health check")
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *RelayApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Email == "" || len(req.Password) < minPasswordLength {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	pwdHash, err := auth.HashPassword(req.Password)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	newUser, err := s.db.CreateAccount(database.CreateAccountParams{
		Username:     req.Username,
		EmailAddress: req.Email,
		PasswordHash: pwdHash,
	})
	if err != nil {
		s.writeLookupError(w, err)
		return
	}

	s.writeJson(w, http.StatusCreated, newUser.ToUser())
}

func (s *RelayApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if lr.Email == "" || lr.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbUser, err := s.db.GetAccountByEmail(lr.Email)
	if err != nil {
		var errResp *ApiError
		if database.IsNotFound(err) {
			errResp = NewUnauthorizedError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !auth.VerifyPassword(dbUser.PasswordHash, lr.Password) {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if types.AccountStatus(dbUser.Status) == types.AccountInactive {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	u := dbUser.ToUser()
	token, err := s.tokens.Issue(u, auth.DefaultExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, auth.NewTokenCookie(token, auth.DefaultExpiration))

	s.writeJson(w, http.StatusOK, LoginResponse{User: u, Token: token})
}

func (s *RelayApp) logout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, auth.ExpiredTokenCookie())
	w.WriteHeader(http.StatusNoContent)
}

func (s *RelayApp) session(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(userId)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}

	u := user.ToUser()
	u.IsOnline = s.cs.IsOnline(u.Id)
	s.writeJson(w, http.StatusOK, u)
}

func (s *RelayApp) account(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	switch r.Method {
	case http.MethodGet:
		user, err := s.db.GetAccountById(userId)
		if err != nil {
			s.writeLookupError(w, err)
			return
		}

		s.writeJson(w, http.StatusOK, user.ToUser())
	case http.MethodPut:
		curUser, err := s.db.GetAccountById(userId)
		if err != nil {
			s.writeLookupError(w, err)
			return
		}

		var req UpdateAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		req.Username = strings.TrimSpace(req.Username)
		if req.Username == "" || (req.Password != "" && len(req.Password) < minPasswordLength) {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		params := database.UpdateAccountParams{
			UserId:   curUser.Id,
			Username: req.Username,
		}

		if req.Password != "" {
			pwdHash, err := auth.HashPassword(req.Password)
			if err != nil {
				errResp := NewInternalServerError(err)
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
			params.PasswordHash = pwdHash
		}

		dbUser, err := s.db.UpdateAccount(params)
		if err != nil {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		u := dbUser.ToUser()
		if params.PasswordHash != "" {
			// the caller keeps its session, every other one is revoked
			token, err := s.tokens.Issue(u, auth.DefaultExpiration)
			if err != nil {
				errResp := NewInternalServerError(err)
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
			http.SetCookie(w, auth.NewTokenCookie(token, auth.DefaultExpiration))
			s.cs.ForceLogout(u.Id, "password changed")
		}

		s.writeJson(w, http.StatusOK, u)
	default:
		errResp := NewMethodNotAllowedError()
		s.writeJson(w, errResp.StatusCode, errResp)
	}
}

func (s *RelayApp) listUsers(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbUsers, err := s.db.ListAccounts()
	if err != nil {
		s.log.WithError(err).Error("list accounts")
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	users := make([]types.User, 0, len(dbUsers))
	for _, dbUser := range dbUsers {
		if dbUser.Id == userId {
			continue
		}

		u := dbUser.ToUser()
		u.IsOnline = s.cs.IsOnline(u.Id)
		users = append(users, u)
	}

	s.writeJson(w, http.StatusOK, users)
}

func (s *RelayApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	query := r.URL.Query()

	peerId, err := strconv.Atoi(query.Get("with"))
	if err != nil || peerId <= 0 || peerId == userId {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var before time.Time
	if beforeStr := query.Get("before"); beforeStr != "" {
		before, err = time.Parse(time.RFC3339Nano, beforeStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	var limit int
	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit <= 0 || limit > database.MaxPageSize {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	messages, err := s.db.GetConversation(userId, peerId, before, limit)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	out := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		out = append(out, msg.ToMessage())
	}

	s.writeJson(w, http.StatusOK, out)
}

func (s *RelayApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(id)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// non-browser clients send no origin
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("error upgrading connection")
		return
	}

	client, err := server.NewClient(user.ToUser(), conn, s.cs, s.log)
	if err != nil {
		s.log.WithError(err).Error("create client")
		conn.Close()
		return
	}

	if err := s.cs.RegisterClient(client); err != nil {
		s.log.WithError(err).Warn("register client")
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	// registration output waits in the send buffer until the writer starts
	go client.Write()
	go client.Read()
}
