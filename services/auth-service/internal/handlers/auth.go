package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/auth"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/events"
	"github.com/modernmen/shopfront/libs/httpx"
	"github.com/modernmen/shopfront/libs/outbox"
	"github.com/modernmen/shopfront/libs/validate"
	"github.com/modernmen/shopfront/services/auth-service/internal/audit"
	"github.com/modernmen/shopfront/services/auth-service/internal/sessions"
	"github.com/modernmen/shopfront/services/auth-service/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

type UserStore interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	Create(ctx context.Context, q db.Querier, u storage.User) (storage.User, error)
	GetByEmail(ctx context.Context, tenantID, email string) (storage.User, error)
	GetByID(ctx context.Context, q db.Querier, id string) (storage.User, error)
}

type RefreshStore interface {
	Create(ctx context.Context, q db.Querier, userID, rawToken string, expiresAt time.Time) (string, error)
	GetByHash(ctx context.Context, q db.Querier, hash string) (sessions.RefreshToken, error)
	Revoke(ctx context.Context, q db.Querier, id string) error
}

type AuditLog interface {
	Record(ctx context.Context, q db.Querier, e audit.Entry) error
	ListRecent(ctx context.Context, tenantID string, limit int) ([]audit.Event, error)
}

type EventWriter interface {
	Insert(ctx context.Context, q db.Querier, evt outbox.Event) error
}

type TokenTTL struct {
	Access  time.Duration
	Refresh time.Duration
}

type AuthHandler struct {
	signer  TokenSigner
	users   UserStore
	refresh RefreshStore
	audit   AuditLog
	outbox  EventWriter
	ttl     TokenTTL
	logger  *slog.Logger
	now     func() time.Time
}

func NewAuthHandler(signer TokenSigner, users UserStore, refresh RefreshStore, auditLog AuditLog, outboxRepo EventWriter, ttl TokenTTL, logger *slog.Logger) *AuthHandler {
	if ttl.Access <= 0 {
		ttl.Access = time.Hour
	}
	if ttl.Refresh <= 0 {
		ttl.Refresh = 30 * 24 * time.Hour
	}
	return &AuthHandler{
		signer:  signer,
		users:   users,
		refresh: refresh,
		audit:   auditLog,
		outbox:  outboxRepo,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
	}
}

type registerRequest struct {
	TenantID string `json:"tenant_id" validate:"omitempty,uuid"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name" validate:"max=200"`
}

type createUserRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name" validate:"required,max=200"`
	Role     string `json:"role" validate:"required,oneof=admin manager staff"`
}

type loginRequest struct {
	TenantID string `json:"tenant_id"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type tokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type tokenResponse struct {
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
	TokenType    string        `json:"tokenType"`
	ExpiresIn    int64         `json:"expiresIn"`
	User         *storage.User `json:"user,omitempty"`
}

// Register creates a customer account in the caller's shop and signs it in.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	tenantID := req.TenantID
	if tenantID == "" {
		var err error
		if tenantID, err = httpx.TenantFromRequest(r); err != nil {
			httpx.WriteError(w, r, err)
			return
		}
	}

	user, tokens, err := h.createUser(r.Context(), storage.User{
		TenantID: tenantID,
		Email:    req.Email,
		Name:     req.Name,
		Role:     auth.RoleCustomer,
	}, req.Password, "", audit.UserRegistered, true)
	if err != nil {
		h.fail(w, r, "register failed", err)
		return
	}
	tokens.User = &user
	httpx.WriteSuccessMessage(w, http.StatusCreated, tokens, "account created")
}

// CreateUser lets an admin add back-office accounts to their own shop.
func (h *AuthHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.RoleAdmin)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req createUserRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	user, _, err := h.createUser(r.Context(), storage.User{
		TenantID: id.TenantID,
		Email:    req.Email,
		Name:     req.Name,
		Role:     req.Role,
	}, req.Password, id.UserID, audit.UserCreated, false)
	if err != nil {
		h.fail(w, r, "create user failed", err)
		return
	}
	httpx.WriteSuccessMessage(w, http.StatusCreated, user, "user created")
}

// createUser stores the account, its audit entry and the user-created event in
// one transaction. With signIn set it also issues a token pair.
func (h *AuthHandler) createUser(ctx context.Context, u storage.User, password, actorID, auditType string, signIn bool) (storage.User, tokenResponse, error) {
	hash, err := hashPassword(password)
	if err != nil {
		return storage.User{}, tokenResponse{}, err
	}
	u.PasswordHash = hash

	var (
		created storage.User
		tokens  tokenResponse
	)
	err = h.users.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		if created, err = h.users.Create(ctx, tx, u); err != nil {
			return err
		}
		if actorID == "" {
			actorID = created.ID
		}
		if err := h.audit.Record(ctx, tx, audit.Entry{
			TenantID:  created.TenantID,
			EventType: auditType,
			ActorID:   actorID,
			Metadata:  map[string]any{"user_id": created.ID, "role": created.Role},
		}); err != nil {
			return err
		}
		evt, err := outbox.NewEvent(created.TenantID, "user", created.ID, events.UserCreated, events.UserCreatedPayload{
			UserID:    created.ID,
			TenantID:  created.TenantID,
			Email:     created.Email,
			Role:      created.Role,
			CreatedAt: created.CreatedAt.UTC(),
		})
		if err != nil {
			return err
		}
		if err := h.outbox.Insert(ctx, tx, evt); err != nil {
			return err
		}
		if signIn {
			tokens, err = h.issueTokens(ctx, tx, created)
		}
		return err
	})
	return created, tokens, err
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validate.Struct(req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		var err error
		if tenantID, err = httpx.TenantFromRequest(r); err != nil {
			httpx.WriteError(w, r, err)
			return
		}
	}

	ctx := r.Context()
	user, err := h.users.GetByEmail(ctx, tenantID, req.Email)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		h.fail(w, r, "user lookup failed", err)
		return
	}
	if err != nil || verifyPassword(user.PasswordHash, req.Password) != nil {
		h.record(ctx, audit.Entry{TenantID: tenantID, EventType: audit.LoginFailed, ActorID: user.ID, Metadata: map[string]any{"email": req.Email}})
		httpx.WriteError(w, r, apperr.Unauthorized("invalid credentials"))
		return
	}

	var tokens tokenResponse
	err = h.users.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		tokens, err = h.issueTokens(ctx, tx, user)
		return err
	})
	if err != nil {
		h.fail(w, r, "issue tokens failed", err)
		return
	}
	h.record(ctx, audit.Entry{TenantID: user.TenantID, EventType: audit.LoginSucceeded, ActorID: user.ID})
	tokens.User = &user
	httpx.WriteSuccess(w, http.StatusOK, tokens)
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// revoked, so each refresh token works once.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if err := validate.Struct(req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	ctx := r.Context()
	var tokens tokenResponse
	err := h.users.WithTx(ctx, func(tx pgx.Tx) error {
		record, err := h.refresh.GetByHash(ctx, tx, sessions.HashToken(req.RefreshToken))
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.Unauthorized("invalid refresh token")
		}
		if err != nil {
			return err
		}
		if !record.Usable(h.now()) {
			return apperr.Unauthorized("refresh token expired")
		}
		user, err := h.users.GetByID(ctx, tx, record.UserID)
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.Unauthorized("invalid refresh token")
		}
		if err != nil {
			return err
		}
		if err := h.refresh.Revoke(ctx, tx, record.ID); err != nil {
			return err
		}
		tokens, err = h.issueTokens(ctx, tx, user)
		return err
	})
	if err != nil {
		h.fail(w, r, "refresh failed", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, tokens)
}

// Logout revokes the refresh token. Unknown or already revoked tokens succeed.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if err := validate.Struct(req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	ctx := r.Context()
	var userID string
	err := h.users.WithTx(ctx, func(tx pgx.Tx) error {
		record, err := h.refresh.GetByHash(ctx, tx, sessions.HashToken(req.RefreshToken))
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if record.RevokedAt != nil {
			return nil
		}
		userID = record.UserID
		return h.refresh.Revoke(ctx, tx, record.ID)
	})
	if err != nil {
		h.fail(w, r, "logout failed", err)
		return
	}
	if userID != "" {
		id := httpx.IdentityFromRequest(r)
		h.record(ctx, audit.Entry{TenantID: id.TenantID, EventType: audit.Logout, ActorID: userID})
	}
	httpx.WriteSuccessMessage(w, http.StatusOK, nil, "logged out")
}

// Me returns the caller's profile. The bearer token is verified here, so the
// route also works without the gateway in front.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := httpx.IdentityFromRequest(r).UserID
	if token, ok := bearerToken(r); ok {
		claims, err := h.signer.Verify(token)
		if err != nil {
			httpx.WriteError(w, r, apperr.Unauthorized("invalid token"))
			return
		}
		userID = claims.UserID()
	}
	if userID == "" {
		httpx.WriteError(w, r, apperr.Unauthorized("authentication required"))
		return
	}
	user, err := h.users.GetByID(r.Context(), nil, userID)
	if err != nil {
		h.fail(w, r, "load user failed", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, user)
}

// JWKS serves the public signing keys in the plain JWKS shape verifiers
// expect, not the API envelope.
func (h *AuthHandler) JWKS(w http.ResponseWriter, r *http.Request) {
	set := h.signer.JWKS()
	if len(set.Keys) == 0 {
		httpx.WriteError(w, r, apperr.NotFound("jwks not available"))
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	httpx.WriteJSON(w, http.StatusOK, set)
}

type rotateRequest struct {
	ActiveKid string `json:"active_kid" validate:"required"`
}

// Rotate switches the signing key to another loaded key.
func (h *AuthHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.RoleAdmin)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req rotateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	switch err := h.signer.SetActiveKid(req.ActiveKid); {
	case errors.Is(err, ErrRotationUnsupported):
		httpx.WriteError(w, r, apperr.Validation("rotation not enabled"))
		return
	case err != nil:
		httpx.WriteError(w, r, apperr.Validation("unknown active_kid"))
		return
	}
	h.record(r.Context(), audit.Entry{
		TenantID:  id.TenantID,
		EventType: audit.KeyRotated,
		ActorID:   id.UserID,
		Metadata:  map[string]any{"active_kid": req.ActiveKid},
	})
	h.logger.Info("signing key rotated", "kid", req.ActiveKid, "user_id", id.UserID)
	httpx.WriteSuccessMessage(w, http.StatusOK, map[string]string{"activeKid": req.ActiveKid}, "signing key rotated")
}

// Audit lists the shop's most recent audit entries.
func (h *AuthHandler) Audit(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.RoleAdmin)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	entries, err := h.audit.ListRecent(r.Context(), id.TenantID, limit)
	if err != nil {
		h.fail(w, r, "list audit events failed", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, entries)
}

func (h *AuthHandler) issueTokens(ctx context.Context, q db.Querier, user storage.User) (tokenResponse, error) {
	now := h.now()
	access, err := h.signer.Sign(auth.NewClaims(user.ID, user.TenantID, user.Role, user.Email, now, h.ttl.Access))
	if err != nil {
		return tokenResponse{}, err
	}
	raw, err := newRefreshToken()
	if err != nil {
		return tokenResponse{}, err
	}
	if _, err := h.refresh.Create(ctx, q, user.ID, raw, now.Add(h.ttl.Refresh)); err != nil {
		return tokenResponse{}, err
	}
	return tokenResponse{
		AccessToken:  access,
		RefreshToken: raw,
		TokenType:    "Bearer",
		ExpiresIn:    int64(h.ttl.Access.Seconds()),
	}, nil
}

// record writes an audit entry outside any transaction. Failures are logged
// and never fail the request.
func (h *AuthHandler) record(ctx context.Context, e audit.Entry) {
	if err := h.audit.Record(ctx, nil, e); err != nil {
		h.logger.Warn("audit record failed", "err", err, "event_type", e.EventType)
	}
}

func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if apperr.Status(err) == http.StatusInternalServerError {
		h.logger.Error(msg, "err", err)
	}
	httpx.WriteError(w, r, err)
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}

func newRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashPassword(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func verifyPassword(hash string, raw string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw))
}
