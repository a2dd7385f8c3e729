package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	// GIVEN an issuer with a fixed clock
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	iss := NewIssuer("s3cret", "hamptons", time.Hour)
	iss.Now = func() time.Time { return now }

	// WHEN a token is issued and parsed back
	tok, err := iss.Issue("hr-admin", "admin")
	require.NoError(t, err)
	claims, err := iss.Parse(tok)

	// THEN the claims round trip
	require.NoError(t, err)
	assert.Equal(t, "hr-admin", claims.Subject)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "hamptons", claims.Issuer)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	iss := NewIssuer("s3cret", "hamptons", time.Hour)
	iss.Now = func() time.Time { return now }
	tok, err := iss.Issue("hr-admin", "admin")
	require.NoError(t, err)

	// WHEN the clock moves past the TTL
	iss.Now = func() time.Time { return now.Add(2 * time.Hour) }
	_, err = iss.Parse(tok)

	// THEN the token is refused
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	tok, err := NewIssuer("one", "hamptons", time.Hour).Issue("x", "")
	require.NoError(t, err)

	_, err = NewIssuer("two", "hamptons", time.Hour).Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssueWithoutSecret(t *testing.T) {
	_, err := NewIssuer("", "hamptons", time.Hour).Issue("x", "")
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("Bearer abc.def")
	assert.True(t, ok)
	assert.Equal(t, "abc.def", tok)

	_, ok = BearerToken("Basic abc")
	assert.False(t, ok)
	_, ok = BearerToken("")
	assert.False(t, ok)
}
