package auth

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

var ErrInvalidToken = errors.New("invalid token")

type claims struct {
	OrganizationID uint   `json:"org,omitempty"`
	Role           Role   `json:"role"`
	Email          string `json:"email"`
	CustomerID     uint   `json:"cid,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer 使用 HS256 签发和校验访问令牌
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret, issuer string, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) < 16 {
		return nil, errors.New("jwt secret must be at least 16 bytes")
	}
	return &TokenIssuer{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

func (t *TokenIssuer) Issue(id Identity) (string, error) {
	now := t.now()
	c := claims{
		OrganizationID: id.OrganizationID,
		Role:           id.Role,
		Email:          id.Email,
		CustomerID:     id.CustomerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   strconv.FormatUint(uint64(id.UserID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.secret)
}

func (t *TokenIssuer) Parse(raw string) (Identity, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return Identity{}, errors.Wrap(ErrInvalidToken, err.Error())
	}
	uid, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil {
		return Identity{}, errors.Wrap(ErrInvalidToken, "bad subject")
	}
	switch c.Role {
	case RoleSuperuser, RoleOwner, RoleStaff, RoleCustomer:
	default:
		return Identity{}, errors.Wrap(ErrInvalidToken, "unknown role")
	}
	return Identity{
		UserID:         uint(uid),
		OrganizationID: c.OrganizationID,
		Email:          c.Email,
		Role:           c.Role,
		CustomerID:     c.CustomerID,
	}, nil
}
