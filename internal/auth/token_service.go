package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Fallback validity periods for issued tokens.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
)

const (
	tokenUseAccess  = "access"
	tokenUseRefresh = "refresh"
)

// TokenConfig bundles the configuration required to build a TokenService.
type TokenConfig struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Clock      func() time.Time
}

// Claims represents the custom claims embedded in issued JWTs. GhostID
// carries the account's canonical ghost so clients can restore their
// anonymous identity after sign-in.
type Claims struct {
	AccountID string `json:"aid"`
	GhostID   string `json:"gid,omitempty"`
	TokenUse  string `json:"use"`
	jwt.RegisteredClaims
}

// TokenPair holds a freshly issued access/refresh token pair.
type TokenPair struct {
	AccessToken  string `json:"access"`
	RefreshToken string `json:"refresh"`
}

// TokenService issues and validates JSON Web Tokens for accounts.
type TokenService struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenService constructs a TokenService from the provided configuration.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt: secret must be provided")
	}

	accessTTL := cfg.AccessTTL
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	refreshTTL := cfg.RefreshTTL
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &TokenService{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        now,
	}, nil
}

// IssuePair signs a new access/refresh token pair for the account.
func (s *TokenService) IssuePair(accountID, ghostID string) (TokenPair, error) {
	if accountID == "" {
		return TokenPair{}, errors.New("jwt: account id is required")
	}

	access, err := s.sign(accountID, ghostID, tokenUseAccess, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.sign(accountID, ghostID, tokenUseRefresh, s.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// ValidateAccessToken parses and validates a signed access token.
func (s *TokenService) ValidateAccessToken(token string) (*Claims, error) {
	return s.validate(token, tokenUseAccess)
}

// ValidateRefreshToken parses and validates a signed refresh token.
func (s *TokenService) ValidateRefreshToken(token string) (*Claims, error) {
	return s.validate(token, tokenUseRefresh)
}

func (s *TokenService) sign(accountID, ghostID, use string, ttl time.Duration) (string, error) {
	now := s.now()

	claims := &Claims{
		AccountID: accountID,
		GhostID:   ghostID,
		TokenUse:  use,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}
	return signed, nil
}

func (s *TokenService) validate(tokenString, use string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("jwt: token string is empty")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("jwt: parse token: %w", err)
	}

	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, errors.New("jwt: invalid issuer")
	}
	if claims.AccountID == "" {
		return nil, errors.New("jwt: missing account id claim")
	}
	if claims.TokenUse != use {
		return nil, fmt.Errorf("jwt: token is not a %s token", use)
	}

	return &claims, nil
}
