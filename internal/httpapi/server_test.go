package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janus-bridge/janus/internal/bridge"
	"github.com/janus-bridge/janus/internal/canonical"
	"github.com/janus-bridge/janus/internal/dbstore"
	"github.com/janus-bridge/janus/internal/dbstore/dbstoretest"
	"github.com/janus-bridge/janus/internal/httpapi"
	"github.com/janus-bridge/janus/internal/platform"
	"github.com/janus-bridge/janus/internal/platform/fakeplatform"
)

func newTestServer(t *testing.T) (*httpapi.Server, *httpapi.Auth) {
	t.Helper()
	hash, err := httpapi.HashPassword("s3cret")
	require.NoError(t, err)
	auth := httpapi.NewAuth(httpapi.AdminCredential{Username: "admin", PasswordHash: hash}, "test-secret", time.Hour)

	repo := dbstoretest.NewBridgeRepository()
	adapters := platform.Registry{A: fakeplatform.New(canonical.PlatformA, true), B: fakeplatform.New(canonical.PlatformB, false)}
	store := bridge.NewStore(repo, adapters, zerolog.Nop())
	feed := httpapi.NewLiveFeed()

	return httpapi.NewServer(store, auth, feed, zerolog.Nop()), auth
}

func doJSON(t *testing.T, srv http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/login", "", map[string]string{"username": "admin", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginIssuesUsableToken(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/login", "", map[string]string{"username": "admin", "password": "s3cret"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["token"])

	listRec := doJSON(t, srv, http.MethodGet, "/bridges", resp["token"], nil)
	assert.Equal(t, http.StatusOK, listRec.Code)
}

func TestProtectedRouteRejectsMissingToken(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/bridges", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateListDeleteBridgeLifecycle(t *testing.T) {
	srv, auth := newTestServer(t)
	token, err := auth.Login(context.Background(), "admin", "s3cret")
	require.NoError(t, err)

	createRec := doJSON(t, srv, http.MethodPost, "/bridges", token, map[string]string{
		"aChannelId": "a-chan", "bChannelId": "b-chan",
	})
	require.Equal(t, http.StatusCreated, createRec.Code)
	var bp dbstore.BridgePair
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &bp))
	require.NotEmpty(t, bp.ID)

	listRec := doJSON(t, srv, http.MethodGet, "/bridges", token, nil)
	require.Equal(t, http.StatusOK, listRec.Code)
	var bridges []dbstore.BridgePair
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &bridges))
	assert.Len(t, bridges, 1)

	toggleRec := doJSON(t, srv, http.MethodPost, "/bridges/"+bp.ID+"/toggle", token, map[string]bool{"active": false})
	require.Equal(t, http.StatusOK, toggleRec.Code)

	deleteRec := doJSON(t, srv, http.MethodDelete, "/bridges/"+bp.ID, token, nil)
	assert.Equal(t, http.StatusNoContent, deleteRec.Code)

	deleteAgainRec := doJSON(t, srv, http.MethodDelete, "/bridges/"+bp.ID, token, nil)
	assert.Equal(t, http.StatusNotFound, deleteAgainRec.Code)
}
