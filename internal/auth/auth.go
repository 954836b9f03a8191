package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials indicates that provided login credentials are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken indicates a missing, expired or forged bearer token.
	ErrInvalidToken = errors.New("invalid token")
)

const claimsKey = "claims"

type Claims struct {
	jwt.RegisteredClaims
}

type Config struct {
	Username     string
	PasswordHash string
	Secret       string
	TokenTTL     time.Duration
}

// Authenticator checks the single operator account and issues HS256 tokens.
// It is disabled when no secret is configured.
type Authenticator struct {
	username string
	hash     []byte
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

func New(cfg Config) (*Authenticator, error) {
	a := &Authenticator{
		username: strings.TrimSpace(cfg.Username),
		hash:     []byte(strings.TrimSpace(cfg.PasswordHash)),
		secret:   []byte(cfg.Secret),
		ttl:      cfg.TokenTTL,
		now:      time.Now,
	}
	if a.ttl <= 0 {
		a.ttl = 12 * time.Hour
	}
	if !a.Enabled() {
		return a, nil
	}
	if a.username == "" {
		a.username = "admin"
	}
	if _, err := bcrypt.Cost(a.hash); err != nil {
		return nil, fmt.Errorf("auth password hash: %w", err)
	}
	return a, nil
}

func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0
}

// HashPassword produces a hash suitable for the auth.passwordhash setting.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Login verifies the credentials and returns a signed token with its expiry.
func (a *Authenticator) Login(username, password string) (string, time.Time, error) {
	if !a.Enabled() {
		return "", time.Time{}, fmt.Errorf("authentication is not configured")
	}
	username = strings.TrimSpace(username)
	if subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) != 1 {
		return "", time.Time{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(password)); err != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}

	now := a.now()
	expires := now.Add(a.ttl)
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   a.username,
		ExpiresAt: jwt.NewNumericDate(expires),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, expires, nil
}

func (a *Authenticator) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Middleware requires a valid bearer token when authentication is enabled.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}
		tokenString, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := a.Validate(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// bearerToken reads the Authorization header, falling back to the
// access_token query parameter for EventSource clients that cannot set headers.
func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if scheme, token, found := strings.Cut(header, " "); found && strings.EqualFold(scheme, "Bearer") && token != "" {
		return strings.TrimSpace(token), true
	}
	if token := c.Query("access_token"); token != "" {
		return token, true
	}
	return "", false
}

func GetClaims(c *gin.Context) (*Claims, bool) {
	v, exists := c.Get(claimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}
