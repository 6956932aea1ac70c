package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/npezzotti/go-relay/internal/auth"
	"github.com/npezzotti/go-relay/internal/types"
)

type SetPasswordRequest struct {
	Password string `json:"password"`
}

type SetStatusRequest struct {
	Status types.AccountStatus `json:"status"`
}

type SetRoleRequest struct {
	Role types.Role `json:"role"`
}

func (s *RelayApp) targetUserId(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return 0, false
	}

	return id, true
}

func (s *RelayApp) adminSetPassword(w http.ResponseWriter, r *http.Request) {
	targetId, ok := s.targetUserId(w, r)
	if !ok {
		return
	}

	var req SetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Password) < minPasswordLength {
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

	if err := s.db.UpdatePassword(targetId, pwdHash); err != nil {
		s.writeLookupError(w, err)
		return
	}

	adminId, _ := UserId(r.Context())
	s.log.WithField("admin_id", adminId).WithField("user_id", targetId).Info("password reset by administrator")
	s.cs.ForceLogout(targetId, "password reset by administrator")

	w.WriteHeader(http.StatusNoContent)
}

func (s *RelayApp) adminSetStatus(w http.ResponseWriter, r *http.Request) {
	targetId, ok := s.targetUserId(w, r)
	if !ok {
		return
	}

	var req SetStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Status.Valid() {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if adminId, _ := UserId(r.Context()); adminId == targetId && req.Status == types.AccountInactive {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbUser, err := s.db.UpdateAccountStatus(targetId, string(req.Status))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}

	if req.Status == types.AccountInactive {
		s.cs.ForceLogout(targetId, "account deactivated")
	}

	s.writeJson(w, http.StatusOK, dbUser.ToUser())
}

func (s *RelayApp) adminSetRole(w http.ResponseWriter, r *http.Request) {
	targetId, ok := s.targetUserId(w, r)
	if !ok {
		return
	}

	var req SetRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Role.Valid() {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbUser, err := s.db.UpdateAccountRole(targetId, string(req.Role))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, dbUser.ToUser())
}
