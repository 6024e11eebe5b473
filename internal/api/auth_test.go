package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npezzotti/gochat-realtime/internal/testutil"
)

func Test_tokenFromRequest(t *testing.T) {
	tcases := []struct {
		name    string
		prepare func(r *http.Request)
		want    string
		err     bool
	}{
		{
			name:    "bearer header",
			prepare: func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") },
			want:    "abc",
		},
		{
			name:    "malformed header",
			prepare: func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") },
			err:     true,
		},
		{
			name: "query parameter",
			prepare: func(r *http.Request) {
				q := r.URL.Query()
				q.Set("token", "from-query")
				r.URL.RawQuery = q.Encode()
			},
			want: "from-query",
		},
		{
			name:    "cookie",
			prepare: func(r *http.Request) { r.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "from-cookie"}) },
			want:    "from-cookie",
		},
		{
			name: "header wins over cookie",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer from-header")
				r.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "from-cookie"})
			},
			want: "from-header",
		},
		{
			name:    "none",
			prepare: func(r *http.Request) {},
			err:     true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			tc.prepare(req)

			got, err := tokenFromRequest(req)
			if tc.err {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func Test_verifyToken(t *testing.T) {
	key := []byte("test-signing-key")
	app := &GoChatApp{signingKey: key}

	t.Run("valid", func(t *testing.T) {
		claims, err := app.verifyToken(testutil.SignToken(t, key, "u1", "alice", time.Hour))
		require.NoError(t, err)
		assert.Equal(t, "u1", claims.Id)
		assert.Equal(t, "alice", claims.Username)
	})

	t.Run("expired", func(t *testing.T) {
		_, err := app.verifyToken(testutil.SignToken(t, key, "u1", "alice", -time.Minute))
		assert.Error(t, err)
	})

	t.Run("wrong key", func(t *testing.T) {
		_, err := app.verifyToken(testutil.SignToken(t, []byte("other-key"), "u1", "alice", time.Hour))
		assert.Error(t, err)
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := app.verifyToken(testutil.SignToken(t, key, "", "alice", time.Hour))
		assert.Error(t, err)
	})

	t.Run("unsigned", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"id": "u1"})
		s, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = app.verifyToken(s)
		assert.Error(t, err)
	})
}
