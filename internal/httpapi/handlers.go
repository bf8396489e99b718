package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Avicted/courier/internal/auth"
	"github.com/Avicted/courier/internal/logger"
	"github.com/Avicted/courier/internal/message"
	"github.com/Avicted/courier/internal/securelog"
	"github.com/Avicted/courier/internal/user"
	"github.com/Avicted/courier/internal/wire"
)

const (
	maxBodyBytes = 1 << 20
	timeLayout   = time.RFC3339Nano
)

// Presence reports whether a user has an open socket.
type Presence interface {
	IsOnline(id user.ID) bool
}

type Handler struct {
	users    *user.Service
	messages *message.Service
	auth     *auth.Service
	presence Presence
	logger   *slog.Logger
}

func NewHandler(users *user.Service, messages *message.Service, auth *auth.Service, l *slog.Logger) *Handler {
	return &Handler{
		users:    users,
		messages: messages,
		auth:     auth,
		logger:   logger.OrDiscard(l),
	}
}

// SetPresence fills the online flag of directory entries.
func (h *Handler) SetPresence(p Presence) {
	h.presence = p
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/auth/register", h.handleRegister)
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/password-reset", h.handlePasswordReset)
	mux.HandleFunc("/auth/password-reset/confirm", h.handlePasswordResetConfirm)
	mux.HandleFunc("/users", h.handleUsers)
	mux.HandleFunc("/users/profile-image", h.handleProfileImage)
	mux.HandleFunc("/conversations", h.handleConversations)
	mux.HandleFunc("/conversations/messages", h.handleConversationMessages)
}

type registerRequest struct {
	Fullname string `json:"fullname"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token     string  `json:"token"`
	UserID    user.ID `json:"user_id"`
	Email     string  `json:"email"`
	Fullname  string  `json:"fullname"`
	ExpiresAt string  `json:"expires_at"`
}

func newAuthResponse(session auth.Session) authResponse {
	return authResponse{
		Token:     session.Token,
		UserID:    session.UserID,
		Email:     session.Email,
		Fullname:  session.Fullname,
		ExpiresAt: session.ExpiresAt.UTC().Format(timeLayout),
	}
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if h.auth == nil {
		h.writeError(w, http.StatusInternalServerError, errors.New("auth service not configured"))
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	_, session, err := h.auth.Register(r.Context(), req.Fullname, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, user.ErrInvalidInput):
			h.writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, user.ErrEmailTaken):
			h.writeError(w, http.StatusConflict, err)
		default:
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, newAuthResponse(session))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if h.auth == nil {
		h.writeError(w, http.StatusInternalServerError, errors.New("auth service not configured"))
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	_, session, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidInput):
			h.writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, auth.ErrUnauthorized):
			h.writeError(w, http.StatusUnauthorized, err)
		default:
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, newAuthResponse(session))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	session, err := h.authenticate(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, err)
		return
	}
	h.auth.Revoke(session.Token)
	w.WriteHeader(http.StatusNoContent)
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

type passwordResetConfirmRequest struct {
	Code     string `json:"code"`
	Password string `json:"password"`
}

// handlePasswordReset answers 202 whether or not the address is registered.
func (h *Handler) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.auth == nil {
		h.writeError(w, http.StatusInternalServerError, errors.New("auth service not configured"))
		return
	}

	var req passwordResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidInput):
			h.writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, auth.ErrResetUnavailable):
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		default:
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.auth == nil {
		h.writeError(w, http.StatusInternalServerError, errors.New("auth service not configured"))
		return
	}

	var req passwordResetConfirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.auth.ResetPassword(r.Context(), req.Code, req.Password); err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, user.ErrInvalidInput):
			h.writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrTokenExpired):
			h.writeError(w, http.StatusUnauthorized, errors.New("invalid or expired reset code"))
		default:
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) authenticate(r *http.Request) (auth.Session, error) {
	if h.auth == nil {
		return auth.Session{}, auth.ErrUnauthorized
	}
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		parts := strings.Fields(header)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return h.auth.ValidateToken(parts[1])
		}
	}
	return auth.Session{}, auth.ErrUnauthorized
}

type userResponse struct {
	ID              user.ID `json:"id"`
	Fullname        string  `json:"fullname"`
	Email           string  `json:"email"`
	ProfileImageURL string  `json:"profile_image_url,omitempty"`
	Online          bool    `json:"online"`
}

type listUsersResponse struct {
	Users []userResponse `json:"users"`
}

// handleUsers serves the new-conversation directory.
func (h *Handler) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.users == nil {
		h.writeError(w, http.StatusInternalServerError, errors.New("user service not configured"))
		return
	}

	session, err := h.authenticate(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, err)
		return
	}

	users, err := h.users.Directory(r.Context(), session.UserID, queryLimit(r))
	if err != nil {
		if errors.Is(err, user.ErrInvalidInput) {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := listUsersResponse{Users: make([]userResponse, 0, len(users))}
	for _, u := range users {
		resp.Users = append(resp.Users, userResponse{
			ID:              u.ID,
			Fullname:        u.Fullname,
			Email:           u.Email,
			ProfileImageURL: u.ProfileImageURL,
			Online:          h.presence != nil && h.presence.IsOnline(u.ID),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type profileImageRequest struct {
	ImageURL string `json:"image_url"`
}

func (h *Handler) handleProfileImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.users == nil {
		h.writeError(w, http.StatusInternalServerError, errors.New("user service not configured"))
		return
	}

	session, err := h.authenticate(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, err)
		return
	}

	var req profileImageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.users.UpdateProfileImage(r.Context(), session.UserID, req.ImageURL); err != nil {
		switch {
		case errors.Is(err, user.ErrInvalidInput):
			h.writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, user.ErrNotFound):
			h.writeError(w, http.StatusNotFound, err)
		default:
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConversations deletes the caller's copy of a conversation.
func (h *Handler) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.messages == nil {
		h.writeError(w, http.StatusInternalServerError, errors.New("message service not configured"))
		return
	}

	session, err := h.authenticate(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, err)
		return
	}

	partnerID := user.ID(strings.TrimSpace(r.URL.Query().Get("partner_id")))
	if partnerID == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("partner_id query parameter is required"))
		return
	}

	if err := h.messages.DeleteConversation(r.Context(), session.UserID, partnerID); err != nil {
		if errors.Is(err, message.ErrInvalidInput) {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type conversationMessagesResponse struct {
	PartnerID user.ID        `json:"partner_id"`
	Messages  []wire.Message `json:"messages"`
}

func (h *Handler) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.messages == nil {
		h.writeError(w, http.StatusInternalServerError, errors.New("message service not configured"))
		return
	}

	session, err := h.authenticate(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, err)
		return
	}

	partnerID := user.ID(strings.TrimSpace(r.URL.Query().Get("partner_id")))
	if partnerID == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("partner_id query parameter is required"))
		return
	}

	msgs, err := h.messages.ListConversation(r.Context(), session.UserID, partnerID, queryLimit(r))
	if err != nil {
		if errors.Is(err, message.ErrInvalidInput) {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := conversationMessagesResponse{
		PartnerID: partnerID,
		Messages:  make([]wire.Message, 0, len(msgs)),
	}
	for _, msg := range msgs {
		resp.Messages = append(resp.Messages, wire.FromMessage(msg))
	}
	writeJSON(w, http.StatusOK, resp)
}

// queryLimit reads ?limit=; anything unparsable means "use the default".
func queryLimit(r *http.Request) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("multiple json objects are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError reports err to the caller. Server-side failures are logged
// without their message text and answered with a generic body.
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		securelog.Error(h.logger, "httpapi", err)
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
