package account

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"recipestore/internal/data"
	"recipestore/internal/logger"
	"recipestore/internal/middleware"
	"recipestore/internal/security"
)

const maxNameLength = 100

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse is returned by register and login. The token is shown exactly once.
type SessionResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      UserProfile `json:"user"`
}

// UserProfile is the public view of the signed-in user.
type UserProfile struct {
	*data.User
	IsPremium bool `json:"is_premium"`
}

func NewProfile(u *data.User, at time.Time) UserProfile {
	return UserProfile{User: u, IsPremium: u.IsPremium(at)}
}

type Service struct {
	sessionTTL time.Duration
	now        func() time.Time
}

func NewService(sessionTTL time.Duration) *Service {
	if sessionTTL <= 0 {
		sessionTTL = 7 * 24 * time.Hour
	}
	return &Service{sessionTTL: sessionTTL, now: time.Now}
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RegisterHandler creates a free user account and signs it in.
func (s *Service) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := middleware.ParseJSONRequest(r, &req); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", "Invalid request body", err.Error())
		return
	}

	req.Email = NormalizeEmail(req.Email)
	req.FullName = strings.TrimSpace(req.FullName)
	// Bare addresses only; display-name forms parse but would be stored verbatim.
	if addr, err := mail.ParseAddress(req.Email); err != nil || addr.Address != req.Email {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_email", "A valid email address is required", "")
		return
	}
	if req.FullName == "" || len([]rune(req.FullName)) > maxNameLength {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_name", "Full name is required (max 100 characters)", "")
		return
	}

	hash, err := security.HashPassword(req.Password)
	if errors.Is(err, security.ErrWeakPassword) {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "weak_password", err.Error(), "")
		return
	}
	if err != nil {
		middleware.WriteInternalError(w, r, "Failed to create account", err)
		return
	}

	user := &data.User{Email: req.Email, PasswordHash: hash, FullName: req.FullName}
	if err := data.InsertUser(r.Context(), user); err != nil {
		if errors.Is(err, data.ErrEmailTaken) {
			middleware.WriteAPIError(w, r, http.StatusConflict, "email_taken", "An account with this email already exists", "")
			return
		}
		middleware.WriteInternalError(w, r, "Failed to create account", err)
		return
	}

	resp, err := s.startSession(r, user)
	if err != nil {
		middleware.WriteInternalError(w, r, "Failed to start session", err)
		return
	}
	logger.LogInfo("Registered user %s", user.ID)
	middleware.WriteAPIStatus(w, r, http.StatusCreated, resp)
}

// LoginHandler exchanges email and password for a session token.
func (s *Service) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := middleware.ParseJSONRequest(r, &req); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", "Invalid request body", err.Error())
		return
	}

	user, err := data.GetUserByEmail(r.Context(), NormalizeEmail(req.Email))
	if err != nil && !errors.Is(err, data.ErrNotFound) {
		middleware.WriteInternalError(w, r, "Failed to sign in", err)
		return
	}
	if err != nil || !security.CheckPassword(user.PasswordHash, req.Password) {
		logger.LogWarn("Failed login for %q from %s", NormalizeEmail(req.Email), logger.GetClientIP(r))
		middleware.WriteAPIError(w, r, http.StatusUnauthorized, "invalid_credentials", "Email or password is incorrect", "")
		return
	}
	if user.Banned {
		middleware.WriteAPIError(w, r, http.StatusForbidden, "banned", "This account has been suspended", "")
		return
	}

	resp, err := s.startSession(r, user)
	if err != nil {
		middleware.WriteInternalError(w, r, "Failed to start session", err)
		return
	}
	middleware.WriteAPISuccess(w, r, resp)
}

// LogoutHandler ends the current session.
func (s *Service) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	token := middleware.GetToken(r.Context())
	if err := data.DeleteSession(r.Context(), security.TokenDigest(token)); err != nil {
		middleware.WriteInternalError(w, r, "Failed to sign out", err)
		return
	}
	middleware.WriteAPISuccess(w, r, map[string]bool{"signed_out": true})
}

// MeHandler returns the caller's profile.
func (s *Service) MeHandler(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	middleware.WriteAPISuccess(w, r, NewProfile(user, s.now()))
}

func (s *Service) startSession(r *http.Request, user *data.User) (*SessionResponse, error) {
	token, err := security.GenerateAccessToken()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	session := data.Session{
		TokenDigest: security.TokenDigest(token),
		UserID:      user.ID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.sessionTTL),
	}
	if err := data.InsertSession(r.Context(), session); err != nil {
		return nil, err
	}
	return &SessionResponse{Token: token, ExpiresAt: session.ExpiresAt, User: NewProfile(user, now)}, nil
}
