package homeserver_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"peerlink/internal/crypto"
	"peerlink/internal/homeserver"
)

func login(t *testing.T, srv *httptest.Server, user, password string) (*http.Response, map[string]string) {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"type":      "m.login.password",
		"user":      user,
		"password":  password,
		"device_id": "dev-1",
	})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/_matrix/client/r0/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	out := map[string]string{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestLogin_AcceptsSignedCredential(t *testing.T) {
	hs := homeserver.New("node", zap.NewNop())
	srv := httptest.NewServer(hs)
	defer srv.Close()

	kp, err := crypto.NewKeypair()
	require.NoError(t, err)
	hash, err := kp.PublicKeyHash()
	require.NoError(t, err)
	password, err := crypto.LoginCredentials(kp, time.Now())
	require.NoError(t, err)

	resp, out := login(t, srv, hash, password)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "@"+hash+":node", out["user_id"])
	assert.NotEmpty(t, out["access_token"])
	assert.Equal(t, "dev-1", out["device_id"])
}

func TestLogin_RejectsForeignKey(t *testing.T) {
	hs := homeserver.New("node", zap.NewNop())
	srv := httptest.NewServer(hs)
	defer srv.Close()

	kp, err := crypto.NewKeypair()
	require.NoError(t, err)
	other, err := crypto.NewKeypair()
	require.NoError(t, err)

	// Credential signed by one key, user id claiming another.
	hash, err := other.PublicKeyHash()
	require.NoError(t, err)
	password, err := crypto.LoginCredentials(kp, time.Now())
	require.NoError(t, err)

	resp, _ := login(t, srv, hash, password)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestLogin_RejectsMalformedPassword(t *testing.T) {
	hs := homeserver.New("node", zap.NewNop())
	srv := httptest.NewServer(hs)
	defer srv.Close()

	resp, _ := login(t, srv, "someone", "hunter2")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSync_RequiresToken(t *testing.T) {
	hs := homeserver.New("node", zap.NewNop())
	srv := httptest.NewServer(hs)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/_matrix/client/r0/sync")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
