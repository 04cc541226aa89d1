package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "a-test-handshake-secret-32-bytes!!"

func TestIssueAndValidateRoundTrip(t *testing.T) {
	v := NewValidator(testSecret)

	tok, err := v.IssueToken("peer-1", time.Hour)
	require.NoError(t, err)

	claims, err := v.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "peer-1", claims.Subject)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	v := NewValidator(testSecret)

	tok, err := v.IssueToken("peer-1", -time.Minute)
	require.NoError(t, err)

	_, err = v.ValidateToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenRejectsBadSignature(t *testing.T) {
	v1 := NewValidator(testSecret)
	v2 := NewValidator("a-different-handshake-secret-32b!!")

	tok, err := v1.IssueToken("peer-1", time.Hour)
	require.NoError(t, err)

	_, err = v2.ValidateToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	v := NewValidator(testSecret)
	_, err := v.ValidateToken("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
