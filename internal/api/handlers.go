// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/oops"

	"github.com/tokenlock/tokenlock/internal/auth"
	"github.com/tokenlock/tokenlock/pkg/errutil"
)

// Authenticator is the credential release flow served by the API.
type Authenticator interface {
	Authenticate(ctx context.Context, req auth.Request) (auth.Result, error)
	NotifyAuthenticate(ctx context.Context, resp auth.Response) (bool, error)
}

// Enroller manages stored profiles.
type Enroller interface {
	Enroll(ctx context.Context, req auth.EnrollRequest) (*auth.Profile, error)
	List(ctx context.Context, userID string) ([]*auth.Profile, error)
	Remove(ctx context.Context, userID string, selector int) error
}

type authenticateRequest struct {
	UserID  string `json:"user_id" validate:"required,max=256"`
	Profile int    `json:"profile" validate:"gte=0"`
	Origin  any    `json:"origin"`
}

type authenticateResponse struct {
	Status     auth.ResultKind `json:"status"`
	Credential *string         `json:"credential,omitempty"`
	AccountID  string          `json:"account_id,omitempty"`
	Profile    *profileView    `json:"profile,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Origin     any             `json:"origin,omitempty"`
}

type notifyRequest struct {
	UserID     string `json:"user_id" validate:"required,max=256"`
	Token      string `json:"token" validate:"required"`
	Passphrase string `json:"passphrase" validate:"required"`
	Origin     any    `json:"origin"`
}

type notifyResponse struct {
	Accepted bool `json:"accepted"`
}

type enrollRequest struct {
	UserID     string `json:"user_id" validate:"required,max=256"`
	AccountID  string `json:"account_id" validate:"required,max=256"`
	Label      string `json:"label" validate:"max=64"`
	Credential string `json:"credential" validate:"required"`
	Passphrase string `json:"passphrase" validate:"required"`
}

type profileView struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Position  int       `json:"position"`
	AccountID string    `json:"account_id"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
}

type listResponse struct {
	Profiles []profileView `json:"profiles"`
}

func newProfileView(p *auth.Profile) profileView {
	return profileView{
		ID:        p.ID.String(),
		UserID:    p.UserID,
		Position:  p.Position,
		AccountID: p.AccountID,
		Label:     p.Label,
		CreatedAt: p.CreatedAt,
	}
}

// handleAuthenticate holds the request open until the credential is released,
// refused or timed out. A disconnecting caller cancels the wait.
func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[authenticateRequest](w, r)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	result, err := s.auth.Authenticate(r.Context(), auth.Request{
		UserID:   req.UserID,
		Selector: req.Profile,
		Origin:   req.Origin,
	})
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	resp := authenticateResponse{Status: result.Kind(), Origin: result.OriginContext()}
	switch res := result.(type) {
	case auth.Success:
		credential := res.Credential
		resp.Credential = &credential
		resp.AccountID = res.AccountID
		if res.Profile != nil {
			view := newProfileView(res.Profile)
			resp.Profile = &view
		}
	case auth.Failure:
		resp.Reason = res.Reason
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[notifyRequest](w, r)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	accepted, err := s.auth.NotifyAuthenticate(r.Context(), auth.Response{
		UserID:     req.UserID,
		Token:      req.Token,
		Passphrase: []byte(req.Passphrase),
		Origin:     req.Origin,
	})
	if err != nil {
		if !accepted {
			writeError(w, r, s.logger, err)
			return
		}
		// The waiting request has its outcome; the answer itself was consumed.
		s.logger.Warn("prompt answer accepted with error", errutil.Attrs(err)...)
	}
	writeJSON(w, http.StatusOK, notifyResponse{Accepted: accepted})
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[enrollRequest](w, r)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	profile, err := s.enroll.Enroll(r.Context(), auth.EnrollRequest{
		UserID:     req.UserID,
		AccountID:  req.AccountID,
		Label:      req.Label,
		Credential: []byte(req.Credential),
		Passphrase: []byte(req.Passphrase),
	})
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newProfileView(profile))
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.enroll.List(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	resp := listResponse{Profiles: make([]profileView, 0, len(profiles))}
	for _, p := range profiles {
		resp.Profiles = append(resp.Profiles, newProfileView(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRemoveProfile(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "position")
	position, err := strconv.Atoi(raw)
	if err != nil || position < 1 {
		writeError(w, r, s.logger, oops.Code(CodeInvalidParam).
			With("position", raw).
			Errorf("position must be a positive integer"))
		return
	}

	if err := s.enroll.Remove(r.Context(), chi.URLParam(r, "userID"), position); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
