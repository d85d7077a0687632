package credential

import (
	"errors"
	"fmt"
	"time"

	"SafeCircle/pkg/clock"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind 区分访问令牌与刷新令牌
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

var (
	ErrInvalidToken = errors.New("credential: invalid token")
	ErrExpiredToken = errors.New("credential: token expired")
	ErrWrongKind    = errors.New("credential: unexpected token kind")
)

// Config 令牌配置
type Config struct {
	Secret        string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	RememberMeTTL time.Duration
}

// Claims JWT 载荷
type Claims struct {
	Kind Kind `json:"kind"`
	jwt.RegisteredClaims
}

// Token 已签发的令牌
type Token struct {
	Value     string    `json:"token"`
	ID        string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Issuer 签发与校验 HS256 令牌
type Issuer struct {
	cfg   Config
	clock clock.Clock
}

func NewIssuer(cfg Config, clk clock.Clock) (*Issuer, error) {
	if len(cfg.Secret) < 16 {
		return nil, fmt.Errorf("credential: secret must be at least 16 bytes")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.RememberMeTTL <= 0 {
		cfg.RememberMeTTL = 30 * 24 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "safecircle"
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Issuer{cfg: cfg, clock: clk}, nil
}

func (i *Issuer) IssueAccess(userID string) (Token, error) {
	return i.issue(userID, KindAccess, i.cfg.AccessTTL)
}

// IssueRefresh rememberMe 时使用更长的有效期
func (i *Issuer) IssueRefresh(userID string, rememberMe bool) (Token, error) {
	ttl := i.cfg.RefreshTTL
	if rememberMe {
		ttl = i.cfg.RememberMeTTL
	}
	return i.issue(userID, KindRefresh, ttl)
}

func (i *Issuer) issue(userID string, kind Kind, ttl time.Duration) (Token, error) {
	now := i.clock.Now()
	id := uuid.NewString()
	exp := now.Add(ttl)
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Issuer:    i.cfg.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(i.cfg.Secret))
	if err != nil {
		return Token{}, fmt.Errorf("credential: sign: %w", err)
	}
	return Token{Value: signed, ID: id, ExpiresAt: exp}, nil
}

// Verify 校验签名、有效期与令牌类型
func (i *Issuer) Verify(value string, kind Kind) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(value, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(i.cfg.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Kind != kind {
		return nil, ErrWrongKind
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
