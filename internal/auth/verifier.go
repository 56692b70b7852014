// Package auth verifies bearer tokens and decides what a caller may do.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgrijalva/jwt-go"
)

// Roles.
const (
	RoleAdmin      = "admin"
	RoleTechnician = "technician"
	RoleCustomer   = "customer"
)

var (
	ErrMissingToken = errors.New("authentication token is missing")
	ErrInvalidToken = errors.New("invalid authentication token")
	ErrExpiredToken = errors.New("authentication token has expired")
)

// Verifier validates bearer tokens.
// Modes: dev (token is "subject:role", no signature) and hmac (HS256 JWT).
type Verifier struct {
	Mode       string
	HMACSecret []byte
	RoleClaim  string
}

type Principal struct {
	Subject string
	Role    string
}

func NewVerifier(mode, secret string) *Verifier {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = "dev"
	}
	return &Verifier{Mode: mode, HMACSecret: []byte(secret), RoleClaim: "role"}
}

func (v *Verifier) Verify(token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrMissingToken
	}
	switch v.Mode {
	case "dev":
		sub, role, ok := strings.Cut(token, ":")
		if !ok || sub == "" || role == "" {
			return Principal{}, fmt.Errorf("%w: expected subject:role", ErrInvalidToken)
		}
		return Principal{Subject: sub, Role: strings.ToLower(role)}, nil
	case "hmac":
		return v.verifyHMAC(token)
	default:
		return Principal{}, fmt.Errorf("unsupported auth mode %q", v.Mode)
	}
}

func (v *Verifier) verifyHMAC(token string) (Principal, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.HMACSecret, nil
	})
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return Principal{}, ErrExpiredToken
		}
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Principal{}, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}
	role, _ := claims[v.RoleClaim].(string)
	if role == "" {
		role = RoleCustomer
	}
	return Principal{Subject: sub, Role: strings.ToLower(role)}, nil
}

// policy maps resource -> action -> roles allowed besides admin.
var policy = map[string]map[string][]string{
	"routes": {
		"optimize": nil,
		"read":     {RoleTechnician},
	},
	"jobs": {
		"read": {RoleTechnician, RoleCustomer},
	},
}

// Authorize reports whether p may perform action on resource. Admins may do
// anything that is declared; unknown resources or actions are denied.
func Authorize(p Principal, resource, action string) bool {
	actions, ok := policy[resource]
	if !ok {
		return false
	}
	roles, ok := actions[action]
	if !ok {
		return false
	}
	if p.Role == RoleAdmin {
		return true
	}
	for _, r := range roles {
		if r == p.Role {
			return true
		}
	}
	return false
}
