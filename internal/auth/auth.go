// Package auth issues and verifies session tokens and hashes passwords.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-relay/internal/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	TokenCookieKey    = "token"
	DefaultExpiration = 24 * time.Hour

	userIdClaim   = "user-id"
	roleClaim     = "role"
	issuedAtClaim = "iat"
	expClaim      = "exp"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the verified content of a session token.
type Claims struct {
	UserId    int
	Role      types.Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IssuedBefore reports whether the token predates t. Tokens carry whole
// seconds, so t is truncated before comparing.
func (c Claims) IssuedBefore(t time.Time) bool {
	return c.IssuedAt.Unix() < t.Unix()
}

type TokenIssuer struct {
	signingKey []byte
}

func NewTokenIssuer(signingKey []byte) *TokenIssuer {
	return &TokenIssuer{signingKey: signingKey}
}

func (ti *TokenIssuer) Issue(user types.User, exp time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim:   user.Id,
		roleClaim:     string(user.Role),
		issuedAtClaim: now.Unix(),
		expClaim:      now.Add(exp).Unix(),
	})

	return token.SignedString(ti.signingKey)
}

func (ti *TokenIssuer) Verify(tokenString string) (Claims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return ti.signingKey, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return Claims{}, ErrInvalidToken
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, fmt.Errorf("%w: unexpected claims", ErrInvalidToken)
	}

	userId, ok := mc[userIdClaim].(float64)
	if !ok || userId <= 0 {
		return Claims{}, fmt.Errorf("%w: missing user id", ErrInvalidToken)
	}

	iat, ok := mc[issuedAtClaim].(float64)
	if !ok {
		return Claims{}, fmt.Errorf("%w: missing issued at", ErrInvalidToken)
	}

	// MapClaims.Valid skips exp when the claim is absent
	exp, ok := mc[expClaim].(float64)
	if !ok || !mc.VerifyExpiresAt(time.Now().Unix(), true) {
		return Claims{}, fmt.Errorf("%w: missing or expired exp", ErrInvalidToken)
	}

	role, _ := mc[roleClaim].(string)

	return Claims{
		UserId:    int(userId),
		Role:      types.Role(role),
		IssuedAt:  time.Unix(int64(iat), 0),
		ExpiresAt: time.Unix(int64(exp), 0),
	}, nil
}

// TokenFromRequest looks for a token in the session cookie, a bearer
// Authorization header and the token query parameter, in that order.
func TokenFromRequest(r *http.Request) (string, bool) {
	if c, err := r.Cookie(TokenCookieKey); err == nil && c.Value != "" {
		return c.Value, true
	}

	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, found := strings.Cut(h, " ")
		if found && strings.EqualFold(scheme, "Bearer") && token != "" {
			return strings.TrimSpace(token), true
		}
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token, true
	}

	return "", false
}

func NewTokenCookie(tokenString string, exp time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     TokenCookieKey,
		Value:    tokenString,
		Path:     "/",
		Expires:  time.Now().Add(exp),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

// ExpiredTokenCookie instructs the browser to drop the session cookie.
func ExpiredTokenCookie() *http.Cookie {
	c := NewTokenCookie("", 0)
	c.Expires = time.Unix(0, 0)
	c.MaxAge = -1
	return c
}

func HashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func VerifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}
