package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/matst80/woof/pkg/common"
	"github.com/matst80/woof/pkg/config"
)

const tokenCookieName = "woof-admin"

var ErrNoToken = errors.New("no admin token")

type AuthHandler interface {
	User(w http.ResponseWriter, r *http.Request)
	Middleware(next http.HandlerFunc) http.HandlerFunc
}

type ContextValue string

var ContextRole = ContextValue("role")

// OpenAuth lets every request through. It is used when no token secret is
// configured.
type OpenAuth struct{}

func (OpenAuth) User(w http.ResponseWriter, r *http.Request) {
	common.WriteJson(w, http.StatusOK, AdminClaims{Username: "local", Name: "Local", Role: "admin"})
}

func (OpenAuth) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ContextRole, "admin")))
	}
}

// AdminClaims is the payload of an admin token. Tokens are issued by whatever
// signs in the editors, sharing WOOF_TOKEN_HASH with this server.
type AdminClaims struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	jwt.StandardClaims
}

// TokenAuth checks HS256 admin tokens from the woof-admin cookie or a bearer
// header. A request carrying the api key as its Authorization header passes
// with role api.
type TokenAuth struct {
	key    []byte
	apiKey string
	now    func() time.Time
}

func NewTokenAuth(cfg config.AuthConfig) (*TokenAuth, error) {
	if cfg.TokenHash == "" {
		return nil, fmt.Errorf("WOOF_TOKEN_HASH environment variable not set")
	}
	return &TokenAuth{
		key:    []byte(cfg.TokenHash),
		apiKey: cfg.ApiKey,
		now:    time.Now,
	}, nil
}

func (a *TokenAuth) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
	}
	return a.key, nil
}

func (a *TokenAuth) Parse(raw string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, a.keyFunc)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if !claims.VerifyExpiresAt(a.now().Unix(), true) {
		return nil, errors.New("token expired")
	}
	return claims, nil
}

func tokenFrom(r *http.Request) (string, error) {
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && bearer != "" {
		return bearer, nil
	}
	cookie, err := r.Cookie(tokenCookieName)
	if err != nil || cookie.Value == "" {
		return "", ErrNoToken
	}
	return cookie.Value, nil
}

func (a *TokenAuth) claims(r *http.Request) (*AdminClaims, error) {
	raw, err := tokenFrom(r)
	if err != nil {
		return nil, err
	}
	return a.Parse(raw)
}

func (a *TokenAuth) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := "api"
		if a.apiKey == "" || r.Header.Get("Authorization") != a.apiKey {
			claims, err := a.claims(r)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			role = claims.Role
		}
		ctx := context.WithValue(r.Context(), ContextRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// User answers with the claims of the caller's token, 204 when there is none.
func (a *TokenAuth) User(w http.ResponseWriter, r *http.Request) {
	claims, err := a.claims(r)
	if errors.Is(err, ErrNoToken) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	noCacheHeaders(w, r)
	common.WriteJson(w, http.StatusOK, claims)
}
