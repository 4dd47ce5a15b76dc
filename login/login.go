package login

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"prepq-backend/config"
	"prepq-backend/email"
	"prepq-backend/migrations"
)

// ErrNoToken means the request carried no usable bearer token.
var ErrNoToken = errors.New("missing bearer token")

const minPasswordLen = 8

// Claims is the JWT payload. Subject carries the account email; the jti
// is what logout revokes, so one stolen-then-revoked token does not kill
// the user's other sessions.
type Claims struct {
	Remember bool `json:"rem,omitempty"`
	jwt.RegisteredClaims
}

// Handler owns authentication: registration, login, logout, refresh and
// the bearer-token resolution every metered endpoint runs through.
type Handler struct {
	secret      []byte
	sessionTTL  time.Duration
	rememberTTL time.Duration

	// revoked maps jti to the natural expiry of the revoked token. Not
	// persisted: entries age out together with the tokens they belong to.
	mu      sync.Mutex
	revoked map[string]time.Time
}

func NewHandler(cfg config.Config) *Handler {
	return &Handler{
		secret:      []byte(cfg.TokenSecret),
		sessionTTL:  cfg.SessionDefault,
		rememberTTL: cfg.SessionRemember,
		revoked:     map[string]time.Time{},
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/register", h.register)
	r.POST("/login", h.login)
	r.POST("/logout", h.logout)
	r.GET("/session", h.session)
	r.POST("/refresh", h.refresh)
	r.POST("/change-password", h.changePassword)
}

func (h *Handler) ttlFor(remember bool) time.Duration {
	if remember {
		return h.rememberTTL
	}
	return h.sessionTTL
}

func (h *Handler) signToken(sub string, remember bool, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		Remember: remember,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secret)
	return signed, exp, err
}

func (h *Handler) parseToken(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return h.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if h.isRevoked(claims.ID) {
		return nil, errors.New("token revoked")
	}
	return claims, nil
}

func (h *Handler) revoke(jti string, exp time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	for id, e := range h.revoked {
		if e.Before(now) {
			delete(h.revoked, id)
		}
	}
	h.revoked[jti] = exp
}

func (h *Handler) isRevoked(jti string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	exp, ok := h.revoked[jti]
	return ok && exp.After(time.Now())
}

func bearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

// IdentityFromRequest resolves the bearer token to the ledger identifier.
// User ids survive email changes, so they are preferred; the email claim
// is the fallback when the user row is gone.
func (h *Handler) IdentityFromRequest(c *gin.Context) (string, error) {
	token := bearerToken(c)
	if token == "" {
		return "", ErrNoToken
	}
	claims, err := h.parseToken(token)
	if err != nil {
		return "", err
	}
	if u := migrations.GetUserByEmail(claims.Subject); u != nil {
		return strconv.FormatInt(u.ID, 10), nil
	}
	return claims.Subject, nil
}

type registerRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

func (h *Handler) register(c *gin.Context) {
	var p registerRequest
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed body"})
		return
	}
	p.Email = strings.TrimSpace(strings.ToLower(p.Email))
	if p.Email == "" || !strings.Contains(p.Email, "@") || p.FirstName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "first_name and a valid email are required"})
		return
	}
	if len(p.Password) < minPasswordLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "password must be at least 8 characters"})
		return
	}
	exists, err := migrations.EmailExists(p.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "persistence_failure"})
		return
	}
	if exists {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "email_taken", "message": "this email is already registered"})
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "persistence_failure"})
		return
	}
	id, err := migrations.CreateUser(p.FirstName, p.LastName, p.Email, string(hash))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "persistence_failure", "message": "could not create the user"})
		return
	}
	if err := email.SendWelcome(p.Email); err != nil {
		log.Printf("[login][register] welcome mail for %s failed: %v", p.Email, err)
	}
	c.JSON(http.StatusCreated, gin.H{"data": gin.H{"id": id, "email": p.Email}})
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

func (h *Handler) login(c *gin.Context) {
	var creds credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed body"})
		return
	}
	creds.Email = strings.TrimSpace(strings.ToLower(creds.Email))

	user := migrations.GetUserByEmail(creds.Email)
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials", "message": "email or password is wrong"})
		return
	}
	token, exp, err := h.signToken(user.Email, creds.Remember, h.ttlFor(creds.Remember))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_failure"})
		return
	}
	log.Printf("[login][ok] user=%d remember=%v", user.ID, creds.Remember)
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": exp.Unix(),
		"remember":   creds.Remember,
		"user":       userView(user),
	})
}

func (h *Handler) logout(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "token required"})
		return
	}
	// Revoke until natural expiry; an already-invalid token has nothing
	// left to revoke.
	if claims, err := h.parseToken(token); err == nil {
		h.revoke(claims.ID, claims.ExpiresAt.Time)
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (h *Handler) session(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
		return
	}
	claims, err := h.parseToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated", "message": "invalid or expired token"})
		return
	}
	user := migrations.GetUserByEmail(claims.Subject)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated", "message": "user no longer exists"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": userView(user)})
}

// refresh issues a new token and revokes the old one. Sessions in their
// second half get the full window again; fresher ones keep their expiry,
// so a busy client cannot extend a session indefinitely faster than the
// configured duration.
func (h *Handler) refresh(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated", "message": "token required"})
		return
	}
	claims, err := h.parseToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated", "message": "invalid or expired token"})
		return
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if base := h.ttlFor(claims.Remember); ttl < base/2 {
		ttl = base
	}
	newToken, exp, err := h.signToken(claims.Subject, claims.Remember, ttl)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_failure"})
		return
	}
	h.revoke(claims.ID, claims.ExpiresAt.Time)
	c.JSON(http.StatusOK, gin.H{"token": newToken, "expires_at": exp.Unix(), "remember": claims.Remember})
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (h *Handler) changePassword(c *gin.Context) {
	var p changePasswordRequest
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed body"})
		return
	}
	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
		return
	}
	claims, err := h.parseToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated", "message": "invalid or expired token"})
		return
	}
	user := migrations.GetUserByEmail(claims.Subject)
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(p.OldPassword)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials", "message": "old password is wrong"})
		return
	}
	if len(p.NewPassword) < minPasswordLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "password must be at least 8 characters"})
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(p.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "persistence_failure"})
		return
	}
	if err := migrations.UpdateUserPassword(user.ID, string(hash)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "persistence_failure", "message": "could not update the password"})
		return
	}
	if err := email.SendPasswordChanged(user.Email); err != nil {
		log.Printf("[login][change-password] notification for %s failed: %v", user.Email, err)
	}
	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

// TokenExpiryHeader adds X-Token-Expires-At on responses to requests that
// carried a valid token, so clients can renew before hitting a 401.
func (h *Handler) TokenExpiryHeader() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := bearerToken(c); token != "" {
			if claims, err := h.parseToken(token); err == nil {
				c.Writer.Header().Set("X-Token-Expires-At", strconv.FormatInt(claims.ExpiresAt.Unix(), 10))
				if claims.Remember {
					c.Writer.Header().Set("X-Token-Remember", "1")
				}
			}
		}
		c.Next()
	}
}

func userView(u *migrations.User) gin.H {
	return gin.H{
		"id":         u.ID,
		"first_name": u.FirstName,
		"last_name":  u.LastName,
		"email":      u.Email,
		"full_name":  strings.TrimSpace(u.FirstName + " " + u.LastName),
		"created_at": u.CreatedAt.Format(time.RFC3339),
	}
}
