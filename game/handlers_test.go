package game

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/roamgame/roam/auth"
	"github.com/roamgame/roam/config"
	"github.com/roamgame/roam/datastore/memory"
)

func newTestServer(t *testing.T) (*GameServer, *memory.Store, *auth.TokenProvider) {
	t.Helper()
	conf, err := config.Load(t.TempDir())
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	tp := auth.NewTokenProvider("test-secret", "roam", time.Hour)
	store := memory.New()
	return New(conf, logger, tp, tp, store), store, tp
}

func postJSON(t *testing.T, gs *GameServer, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	gs.ServeHTTP(rec, req)
	return rec
}

func TestSignupAndLogin(t *testing.T) {
	gs, _, tp := newTestServer(t)

	rec := postJSON(t, gs, SIGNUP_PATH, LoginRequest{Username: "alice", Password: "hunter22"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "alice", created["username"])
	require.NotEmpty(t, created["playerID"])

	t.Run("duplicate username conflicts", func(t *testing.T) {
		rec := postJSON(t, gs, SIGNUP_PATH, LoginRequest{Username: "alice", Password: "other"})
		require.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("login returns a usable token", func(t *testing.T) {
		rec := postJSON(t, gs, LOGIN_PATH, LoginRequest{Username: "alice", Password: "hunter22"})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, created["playerID"], resp["playerID"])

		req := httptest.NewRequest(http.MethodGet, ROOMS_PATH, nil)
		req.Header.Set("Authorization", "Bearer "+resp["token"])
		uid, err := tp.GetUIDFromRequest(req)
		require.NoError(t, err)
		require.Equal(t, created["playerID"], uid)
	})

	t.Run("wrong password is unauthorized", func(t *testing.T) {
		rec := postJSON(t, gs, LOGIN_PATH, LoginRequest{Username: "alice", Password: "nope"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown account is unauthorized", func(t *testing.T) {
		rec := postJSON(t, gs, LOGIN_PATH, LoginRequest{Username: "nobody", Password: "x"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("blank credentials are rejected", func(t *testing.T) {
		rec := postJSON(t, gs, SIGNUP_PATH, LoginRequest{})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("GET is not allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, LOGIN_PATH, nil)
		rec := httptest.NewRecorder()
		gs.ServeHTTP(rec, req)
		require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestAuthenticatedRoutes(t *testing.T) {
	gs, _, tp := newTestServer(t)

	t.Run("no token is unauthorized", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, ROOMS_PATH, nil)
		rec := httptest.NewRecorder()
		gs.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rooms lists occupancy", func(t *testing.T) {
		require.NoError(t, gs.rooms.Join("lobby", "alice"))
		require.NoError(t, gs.rooms.Join("lobby", "bob"))
		require.NoError(t, gs.rooms.Join("plaza", "carol"))

		token, err := tp.IssueToken("carol")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, ROOMS_PATH, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		gs.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var rooms map[string]int
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rooms))
		require.Equal(t, map[string]int{"lobby": 2, "plaza": 1}, rooms)
	})
}

func TestHealthz(t *testing.T) {
	gs, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, HEALTHZ_PATH, nil)
	rec := httptest.NewRecorder()
	gs.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
