package pasetotoken

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, keys Keys) *Manager {
	t.Helper()
	m, err := New(Config{Mode: keys.Mode, Issuer: "simorq-auth", Audience: "simorq-calendar"}, keys)
	require.NoError(t, err)
	return m
}

func TestIssueVerify_Local(t *testing.T) {
	m := newTestManager(t, NewLocalKeys())
	uid := uuid.New()
	sid := uuid.New()

	tok, err := m.IssueAccess(uid, &sid, RolePractitioner)
	require.NoError(t, err)

	claims, err := m.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, uid, claims.UserID)
	require.NotNil(t, claims.SessionID)
	assert.Equal(t, sid, *claims.SessionID)
	assert.True(t, claims.IsPractitioner())
	assert.False(t, claims.IsExpired())
}

func TestVerify_WrongKey(t *testing.T) {
	issuer := newTestManager(t, NewLocalKeys())
	verifier := newTestManager(t, NewLocalKeys())

	tok, err := issuer.IssueAccess(uuid.New(), nil, "")
	require.NoError(t, err)

	_, err = verifier.Verify(tok)
	var invalid ErrInvalidToken
	assert.True(t, errors.As(err, &invalid))
}

func TestIssueVerify_Public(t *testing.T) {
	m := newTestManager(t, NewPublicKeys())

	tok, err := m.IssueAccess(uuid.New(), nil, "client")
	require.NoError(t, err)

	claims, err := m.Verify(tok)
	require.NoError(t, err)
	assert.False(t, claims.IsPractitioner())
}

func TestLoadKeys_Errors(t *testing.T) {
	_, err := LoadKeys(KeyStrings{Mode: ModeLocal})
	assert.Error(t, err)

	_, err = LoadKeys(KeyStrings{Mode: "weird"})
	assert.Error(t, err)
}
