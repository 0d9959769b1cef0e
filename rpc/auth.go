package rpc

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const authClockSkew = 2 * time.Minute

// authenticator gates mutating RPC methods. Two credential forms are
// accepted: a static bearer token from GIG_RPC_TOKEN, or an HS256 JWT signed
// with GIG_RPC_JWT_SECRET. When GIG_RPC_JWT_ISSUER or GIG_RPC_JWT_AUDIENCE
// are set the matching claims are enforced.
type authenticator struct {
	staticToken string
	jwtSecret   []byte
	issuer      string
	audience    string
}

func newAuthenticatorFromEnv() *authenticator {
	return &authenticator{
		staticToken: strings.TrimSpace(os.Getenv("GIG_RPC_TOKEN")),
		jwtSecret:   []byte(strings.TrimSpace(os.Getenv("GIG_RPC_JWT_SECRET"))),
		issuer:      strings.TrimSpace(os.Getenv("GIG_RPC_JWT_ISSUER")),
		audience:    strings.TrimSpace(os.Getenv("GIG_RPC_JWT_AUDIENCE")),
	}
}

func (a *authenticator) authorize(r *http.Request) error {
	if a.staticToken == "" && len(a.jwtSecret) == 0 {
		return errors.New("RPC authentication not configured")
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return errors.New("missing Authorization header")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return errors.New("Authorization header must use Bearer scheme")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return errors.New("missing bearer token")
	}
	if a.staticToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.staticToken)) == 1 {
		return nil
	}
	if len(a.jwtSecret) > 0 {
		if err := a.verifyJWT(token); err == nil {
			return nil
		}
	}
	return errors.New("invalid RPC credentials")
}

func (a *authenticator) verifyJWT(tokenString string) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(authClockSkew),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.jwtSecret, nil
	}, opts...)
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("token invalid")
	}
	return nil
}
