// Package session は署名付きセッショントークンの発行と検証を提供する。
//
// トークンにはpending（メール未認証）とfull（認証済み）の2段階があり、
// 検証時に要求段階と一致しないトークンは拒否する。
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/atelier/internal/model"
)

// Stage はセッションの段階を表す。
type Stage string

const (
	// StagePending はメール認証前のセッション。メール認証と再送信にのみ使用できる。
	StagePending Stage = "pending"
	// StageFull は認証済みユーザーのセッション。
	StageFull Stage = "full"
)

const issuerName = "atelier"

// ErrInvalidToken はトークンの署名不正・期限切れ・段階不一致を表す。
var ErrInvalidToken = errors.New("invalid session token")

// Claims はセッショントークンのクレーム。
type Claims struct {
	Email string     `json:"email"`
	Role  model.Role `json:"role"`
	Stage Stage      `json:"stage"`
	jwt.RegisteredClaims
}

// SubjectID はトークンの対象ユーザーIDを返す。
func (c *Claims) SubjectID() string {
	return c.Subject
}

// Config はIssuerの設定。
type Config struct {
	Secret     string
	PendingTTL time.Duration
	FullTTL    time.Duration
}

// Issuer はHS256で署名したJWTをセッショントークンとして発行・検証する。
type Issuer struct {
	secret     []byte
	pendingTTL time.Duration
	fullTTL    time.Duration
	now        func() time.Time
}

// NewIssuer はIssuerを生成する。
func NewIssuer(cfg Config) *Issuer {
	return &Issuer{
		secret:     []byte(cfg.Secret),
		pendingTTL: cfg.PendingTTL,
		fullTTL:    cfg.FullTTL,
		now:        time.Now,
	}
}

// Issue はユーザーに対して指定段階のトークンを発行する。
func (i *Issuer) Issue(user *model.User, stage Stage) (string, error) {
	var ttl time.Duration
	switch stage {
	case StagePending:
		ttl = i.pendingTTL
	case StageFull:
		ttl = i.fullTTL
	default:
		return "", fmt.Errorf("unknown session stage: %q", stage)
	}

	now := i.now()
	claims := &Claims{
		Email: user.Email,
		Role:  user.Role,
		Stage: stage,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   user.ID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return token, nil
}

// Verify はトークンの署名・有効期限・段階を検証してクレームを返す。
// 署名アルゴリズムはHS256に固定する。
func (i *Issuer) Verify(token string, want Stage) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) {
			return i.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuerName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Stage != want || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
