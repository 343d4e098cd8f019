package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJWTResolver(t *testing.T) {
	ctx := context.Background()
	r := NewJWTResolver("test-secret")

	token, exp, err := SignAccessToken("test-secret", "42", "alice", time.Minute)
	require.NoError(t, err)
	require.True(t, exp.After(time.Now()))

	id, err := r.Resolve(ctx, token)
	require.NoError(t, err)
	require.Equal(t, Identity{UserID: "42", Username: "alice"}, id)

	other, _, err := SignAccessToken("other-secret", "42", "alice", time.Minute)
	require.NoError(t, err)
	_, err = r.Resolve(ctx, other)
	require.ErrorIs(t, err, ErrUnauthenticated)

	expired, _, err := SignAccessToken("test-secret", "42", "alice", -time.Minute)
	require.NoError(t, err)
	_, err = r.Resolve(ctx, expired)
	require.ErrorIs(t, err, ErrUnauthenticated)

	_, err = r.Resolve(ctx, "")
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestRemoteResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		require.Equal(t, "/v1/auth/verify", req.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch req.Header.Get("Authorization") {
		case "Bearer good":
			_, _ = w.Write([]byte(`{"userId":7,"username":"bob","type":"access"}`))
		case "Bearer refresh":
			_, _ = w.Write([]byte(`{"userId":"7","username":"bob","type":"refresh"}`))
		case "Bearer broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"token expired"}`))
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	r := NewRemoteResolver(srv.URL+"/", time.Second)

	id, err := r.Resolve(ctx, "good")
	require.NoError(t, err)
	require.Equal(t, Identity{UserID: "7", Username: "bob"}, id)

	_, err = r.Resolve(ctx, "refresh")
	require.ErrorIs(t, err, ErrUnauthenticated)

	_, err = r.Resolve(ctx, "bad")
	require.ErrorIs(t, err, ErrUnauthenticated)
	require.ErrorContains(t, err, "token expired")

	_, err = r.Resolve(ctx, "broken")
	require.ErrorIs(t, err, ErrUpstream)
}

func TestExtractBearer(t *testing.T) {
	require.Equal(t, "abc", ExtractBearer("Bearer abc"))
	require.Equal(t, "abc", ExtractBearer("bearer  abc "))
	require.Empty(t, ExtractBearer("Basic abc"))
	require.Empty(t, ExtractBearer(""))
}

func TestDocTypeEntitlements(t *testing.T) {
	ctx := context.Background()

	all := NewDocTypeEntitlements(nil)
	ok, err := all.Entitled(ctx, "u", "spreadsheet")
	require.NoError(t, err)
	require.True(t, ok)

	some := NewDocTypeEntitlements([]string{"document", "presentation"})
	ok, _ = some.Entitled(ctx, "u", "document")
	require.True(t, ok)
	ok, _ = some.Entitled(ctx, "u", "spreadsheet")
	require.False(t, ok)
}
