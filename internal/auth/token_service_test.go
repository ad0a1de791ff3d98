package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, clock func() time.Time) *TokenService {
	t.Helper()
	svc, err := NewTokenService(TokenConfig{
		Secret: "test-secret",
		Issuer: "orbit-test",
		Clock:  clock,
	})
	require.NoError(t, err)
	return svc
}

func TestNewTokenServiceRequiresSecret(t *testing.T) {
	_, err := NewTokenService(TokenConfig{})
	require.Error(t, err)
}

func TestIssuePairRoundTrip(t *testing.T) {
	svc := newTestService(t, nil)

	pair, err := svc.IssuePair("acct-1", "ghost-1")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	claims, err := svc.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "acct-1", claims.AccountID)
	require.Equal(t, "ghost-1", claims.GhostID)

	refreshClaims, err := svc.ValidateRefreshToken(pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, "acct-1", refreshClaims.AccountID)
}

func TestIssuePairRequiresAccount(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.IssuePair("", "ghost-1")
	require.Error(t, err)
}

func TestTokenUseIsEnforced(t *testing.T) {
	svc := newTestService(t, nil)

	pair, err := svc.IssuePair("acct-1", "")
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(pair.RefreshToken)
	require.Error(t, err)
	_, err = svc.ValidateRefreshToken(pair.AccessToken)
	require.Error(t, err)
}

func TestAccessTokenExpiry(t *testing.T) {
	current := time.Now()
	svc := newTestService(t, func() time.Time { return current })

	pair, err := svc.IssuePair("acct-1", "")
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)

	current = current.Add(DefaultAccessTokenTTL + time.Minute)
	_, err = svc.ValidateAccessToken(pair.AccessToken)
	require.Error(t, err)

	// The refresh token outlives the access token.
	_, err = svc.ValidateRefreshToken(pair.RefreshToken)
	require.NoError(t, err)
}

func TestIssuerMismatchIsRejected(t *testing.T) {
	issuing, err := NewTokenService(TokenConfig{Secret: "test-secret", Issuer: "other"})
	require.NoError(t, err)
	validating := newTestService(t, nil)

	pair, err := issuing.IssuePair("acct-1", "")
	require.NoError(t, err)

	_, err = validating.ValidateAccessToken(pair.AccessToken)
	require.Error(t, err)
}

func TestTamperedTokenIsRejected(t *testing.T) {
	svc := newTestService(t, nil)
	other, err := NewTokenService(TokenConfig{Secret: "different-secret", Issuer: "orbit-test"})
	require.NoError(t, err)

	pair, err := other.IssuePair("acct-1", "")
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(pair.AccessToken)
	require.Error(t, err)
}
