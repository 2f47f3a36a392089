package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func makeTokenNoExp(t *testing.T) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1"})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestIsExpired(t *testing.T) {
	base := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)
	orig := now
	now = func() time.Time { return base }
	t.Cleanup(func() { now = orig })

	tests := []struct {
		name   string
		token  string
		leeway time.Duration
		want   bool
	}{
		{name: "valid with headroom", token: makeToken(t, base.Add(time.Hour)), leeway: 30 * time.Second, want: false},
		{name: "already expired", token: makeToken(t, base.Add(-time.Minute)), leeway: 0, want: true},
		{name: "expires within leeway", token: makeToken(t, base.Add(10*time.Second)), leeway: 30 * time.Second, want: true},
		{name: "expires exactly at leeway edge", token: makeToken(t, base.Add(30*time.Second)), leeway: 30 * time.Second, want: true},
		{name: "garbage token fails closed", token: "not-a-jwt", leeway: 0, want: true},
		{name: "no exp claim fails closed", token: makeTokenNoExp(t), leeway: 0, want: true},
		{name: "empty token", token: "", leeway: 0, want: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsExpired(tc.token, tc.leeway))
		})
	}
}

func TestStore_RoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewStore(fs, "/data/token")

	got, err := s.Current()
	require.NoError(t, err)
	assert.Equal(t, "", got, "missing file means logged out")

	require.NoError(t, s.Save("abc.def.ghi"))
	got, err = s.Current()
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", got)

	require.NoError(t, s.Clear())
	got, err = s.Current()
	require.NoError(t, err)
	assert.Equal(t, "", got)

	// Clearing twice is a no-op.
	require.NoError(t, s.Clear())
}
