package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionIssuer_IssueAndVerify(t *testing.T) {
	issuer, err := NewSessionIssuer("test-secret-that-is-long-enough", time.Hour)
	require.NoError(t, err)

	token, expires, err := issuer.Issue("me@example.com")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	userID, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "me@example.com", userID)
}

func TestSessionIssuer_Rejects(t *testing.T) {
	issuer, err := NewSessionIssuer("secret-one", time.Hour)
	require.NoError(t, err)
	other, err := NewSessionIssuer("secret-two", time.Hour)
	require.NoError(t, err)

	token, _, err := issuer.Issue("me@example.com")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		by    *SessionIssuer
	}{
		{name: "wrong secret", token: token, by: other},
		{name: "garbage", token: "not.a.jwt", by: issuer},
		{name: "empty", token: "", by: issuer},
		{name: "tampered", token: token + "x", by: issuer},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.by.Verify(tc.token)
			assert.ErrorIs(t, err, ErrInvalidSession)
		})
	}
}

func TestSessionIssuer_Expired(t *testing.T) {
	issuer, err := NewSessionIssuer("secret", time.Minute)
	require.NoError(t, err)

	token, _, err := issuer.Issue("me@example.com")
	require.NoError(t, err)

	original := Now
	Now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	defer func() { Now = original }()

	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestNewSessionIssuerRequiresSecret(t *testing.T) {
	_, err := NewSessionIssuer("", time.Hour)
	assert.Error(t, err)

	_, _, err = (&SessionIssuer{secret: []byte("s"), ttl: time.Hour}).Issue("")
	assert.Error(t, err)
}
