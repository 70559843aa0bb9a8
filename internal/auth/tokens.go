package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	stdtime "time"

	"github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/google/uuid"

	"github.com/kuitang/notevault/internal/errs"
	"github.com/kuitang/notevault/internal/store"
)

// Token errors. All are unauthenticated, each with its own message.
var (
	ErrTokenMalformed   = errs.New(errs.Unauthenticated, "malformed token")
	ErrSignatureInvalid = errs.New(errs.Unauthenticated, "invalid token signature")
	ErrTokenExpired     = errs.New(errs.Unauthenticated, "token expired")
	ErrTokenRevoked     = errs.New(errs.Unauthenticated, "token revoked")
	ErrRefreshUnknown   = errs.New(errs.Unauthenticated, "unknown refresh token")
)

// TokenType is the HTTP authorization scheme for issued access tokens.
const TokenType = "Bearer"

// Default token lifetimes.
const (
	DefaultAccessTokenTTL  = 1 * stdtime.Hour
	DefaultRefreshTokenTTL = 7 * 24 * stdtime.Hour

	// DefaultIssuer is the iss claim of every token.
	DefaultIssuer = "notevault"

	// MinSecretSize is the minimum HMAC secret length in bytes.
	MinSecretSize = 32
)

const (
	tokenUseAccess  = "access"
	tokenUseRefresh = "refresh"
)

// TokenClaims are the JWT claims of access and refresh tokens.
type TokenClaims struct {
	jwt.Claims
	Role      store.Role `json:"role"`
	AccountID string     `json:"aid,omitempty"`
	TokenUse  string     `json:"token_use"`
}

func (c *TokenClaims) identity() Identity {
	return Identity{Username: c.Subject, Role: c.Role, AccountID: c.AccountID}
}

// TokenConfig configures a TokenService.
type TokenConfig struct {
	// AccessSecret signs access tokens.
	AccessSecret []byte
	// RefreshSecret signs refresh tokens. Must differ from AccessSecret.
	RefreshSecret []byte
	AccessTTL     stdtime.Duration
	RefreshTTL    stdtime.Duration
	// Issuer defaults to DefaultIssuer.
	Issuer string
	// Clock defaults to the system clock.
	Clock Clock
}

// TokenService issues and verifies HS256 JWTs.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessSigner  jose.Signer
	refreshSigner jose.Signer
	accessTTL     stdtime.Duration
	refreshTTL    stdtime.Duration
	issuer        string
	clock         Clock

	revoked  *store.RevocationStore
	registry *TokenRegistry
}

// NewTokenService creates a token service backed by the persistent
// revocation set and the process-lifetime refresh registry.
func NewTokenService(cfg TokenConfig, revoked *store.RevocationStore, registry *TokenRegistry) (*TokenService, error) {
	if len(cfg.AccessSecret) < MinSecretSize || len(cfg.RefreshSecret) < MinSecretSize {
		return nil, fmt.Errorf("token secrets must be at least %d bytes", MinSecretSize)
	}
	if bytes.Equal(cfg.AccessSecret, cfg.RefreshSecret) {
		return nil, errors.New("access and refresh token secrets must differ")
	}
	if revoked == nil || registry == nil {
		return nil, errors.New("revocation store and token registry are required")
	}

	accessSigner, err := newSigner(cfg.AccessSecret)
	if err != nil {
		return nil, err
	}
	refreshSigner, err := newSigner(cfg.RefreshSecret)
	if err != nil {
		return nil, err
	}

	s := &TokenService{
		accessSecret:  cfg.AccessSecret,
		refreshSecret: cfg.RefreshSecret,
		accessSigner:  accessSigner,
		refreshSigner: refreshSigner,
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		issuer:        cfg.Issuer,
		clock:         cfg.Clock,
		revoked:       revoked,
		registry:      registry,
	}
	if s.accessTTL <= 0 {
		s.accessTTL = DefaultAccessTokenTTL
	}
	if s.refreshTTL <= 0 {
		s.refreshTTL = DefaultRefreshTokenTTL
	}
	if s.issuer == "" {
		s.issuer = DefaultIssuer
	}
	if s.clock == nil {
		s.clock = SystemClock
	}
	return s, nil
}

func newSigner(secret []byte) (jose.Signer, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: secret}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return nil, fmt.Errorf("create token signer: %w", err)
	}
	return signer, nil
}

// AccessTTL returns the lifetime of issued access tokens.
func (s *TokenService) AccessTTL() stdtime.Duration {
	return s.accessTTL
}

// Registry returns the refresh-token registry.
func (s *TokenService) Registry() *TokenRegistry {
	return s.registry
}

// IssueAccessToken signs a short-lived access token for id.
func (s *TokenService) IssueAccessToken(id Identity) (string, error) {
	token, _, err := s.issue(id, tokenUseAccess, s.accessSigner, s.accessTTL)
	return token, err
}

// IssueRefreshToken signs a refresh token for id and records it in the registry.
func (s *TokenService) IssueRefreshToken(id Identity) (string, error) {
	token, expiresAt, err := s.issue(id, tokenUseRefresh, s.refreshSigner, s.refreshTTL)
	if err != nil {
		return "", err
	}
	s.registry.Add(token, id.Username, expiresAt)
	return token, nil
}

func (s *TokenService) issue(id Identity, use string, signer jose.Signer, ttl stdtime.Duration) (string, stdtime.Time, error) {
	if id.Username == "" || !id.Role.Valid() {
		return "", stdtime.Time{}, errors.New("cannot issue token for incomplete identity")
	}
	now := s.clock.Now()
	expiresAt := now.Add(ttl)
	claims := TokenClaims{
		Claims: jwt.Claims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   id.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(expiresAt),
		},
		Role:      id.Role,
		AccountID: id.AccountID,
		TokenUse:  use,
	}
	token, err := jwt.Signed(signer).Claims(claims).CompactSerialize()
	if err != nil {
		return "", stdtime.Time{}, fmt.Errorf("sign %s token: %w", use, err)
	}
	return token, expiresAt, nil
}

// VerifyAccess checks an access token's structure, signature and expiry,
// and only then whether it has been revoked.
func (s *TokenService) VerifyAccess(ctx context.Context, token string) (Identity, error) {
	claims, err := s.parse(token, s.accessSecret, tokenUseAccess)
	if err != nil {
		return Identity{}, err
	}

	revoked, err := s.revoked.Contains(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	if revoked {
		return Identity{}, ErrTokenRevoked
	}
	return claims.identity(), nil
}

// Refresh exchanges an outstanding refresh token for a new access token
// carrying the same subject and role.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (string, Identity, error) {
	if !s.registry.Contains(refreshToken) {
		return "", Identity{}, ErrRefreshUnknown
	}
	claims, err := s.parse(refreshToken, s.refreshSecret, tokenUseRefresh)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			s.registry.Remove(refreshToken)
		}
		return "", Identity{}, err
	}

	id := claims.identity()
	access, err := s.IssueAccessToken(id)
	if err != nil {
		return "", Identity{}, err
	}
	return access, id, nil
}

// Revoke adds an access token to the revocation set. Revoking twice is a no-op.
func (s *TokenService) Revoke(ctx context.Context, accessToken string) error {
	return s.revoked.Add(ctx, accessToken)
}

// Forget drops a refresh token from the registry.
func (s *TokenService) Forget(refreshToken string) {
	s.registry.Remove(refreshToken)
}

// ForgetSubject drops every refresh token issued to username.
func (s *TokenService) ForgetSubject(username string) int {
	return s.registry.RemoveSubject(username)
}

func (s *TokenService) parse(token string, secret []byte, use string) (*TokenClaims, error) {
	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if len(parsed.Headers) != 1 || parsed.Headers[0].Algorithm != string(jose.HS256) {
		return nil, ErrSignatureInvalid
	}

	claims := &TokenClaims{}
	if err := parsed.Claims(secret, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	expected := jwt.Expected{
		Issuer: s.issuer,
		Time:   s.clock.Now(),
	}
	if err := claims.ValidateWithLeeway(expected, 0); err != nil {
		switch {
		case errors.Is(err, jwt.ErrExpired), errors.Is(err, jwt.ErrNotValidYet), errors.Is(err, jwt.ErrIssuedInTheFuture):
			return nil, ErrTokenExpired
		default:
			return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
		}
	}
	if claims.TokenUse != use || claims.Subject == "" || !claims.Role.Valid() {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}
