package game

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/roamgame/roam/auth"
	"github.com/roamgame/roam/common"
	"github.com/roamgame/roam/datastore"
	game_player "github.com/roamgame/roam/game/player"
)

const (
	CONNECT_PATH = "/connect"
	LOGIN_PATH   = "/login"
	SIGNUP_PATH  = "/signup"
	ROOMS_PATH   = "/rooms"
	HEALTHZ_PATH = "/healthz"
)

// publicPaths are served without a token.
var publicPaths = map[string]bool{
	LOGIN_PATH:   true,
	SIGNUP_PATH:  true,
	HEALTHZ_PATH: true,
}

// LoginRequest is the credential payload for LOGIN_PATH and SIGNUP_PATH.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (gs *GameServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if publicPaths[r.URL.Path] {
		gs.serveMux.ServeHTTP(w, r)
		return
	}

	ctx, err := gs.authProvider.AuthenticateRequest(r.Context(), r)
	if err != nil {
		common.WriteErrorResponse(w, http.StatusUnauthorized, err.Error())
		return
	}
	gs.serveMux.ServeHTTP(w, r.WithContext(ctx))
}

func (gs *GameServer) setupHandlers() {
	gs.serveMux.HandleFunc(CONNECT_PATH, gs.connectHandler)
	gs.serveMux.HandleFunc(LOGIN_PATH, gs.loginHandler)
	gs.serveMux.HandleFunc(SIGNUP_PATH, gs.signupHandler)
	gs.serveMux.HandleFunc(ROOMS_PATH, gs.roomsHandler)
	gs.serveMux.HandleFunc(HEALTHZ_PATH, gs.healthzHandler)
}

// connectHandler upgrades to a websocket and runs the session until it
// disconnects. Authentication already happened in ServeHTTP; the remaining
// handshake (state load, room join, snapshot) is bounded by the configured
// handshake timeout.
func (gs *GameServer) connectHandler(w http.ResponseWriter, r *http.Request) {
	playerID, ok := auth.UIDFromContext(r.Context())
	if !ok {
		common.WriteErrorResponse(w, http.StatusUnauthorized, "missing identity")
		return
	}

	p, err := game_player.NewWSPlayer(playerID, w, r, gs.config.Game.SendQueueSize, gs.config.Game.WriteTimeout)
	if err != nil {
		gs.logger.WithFields(logrus.Fields{
			"playerID": playerID,
			"error":    err.Error(),
		}).Error("websocket upgrade failed")
		return
	}

	hsCtx, cancel := context.WithTimeout(context.Background(), gs.config.Game.HandshakeTimeout)
	session, err := gs.coordinator.Connect(hsCtx, playerID, p)
	cancel()
	if err != nil {
		gs.logger.WithFields(logrus.Fields{
			"playerID": playerID,
			"error":    err.Error(),
		}).Error("failed to connect player")
		p.CloseWithError(err)
		return
	}

	session.Run(context.Background())
}

func (gs *GameServer) loginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		common.WriteErrorResponse(w, http.StatusMethodNotAllowed, "use POST")
		return
	}

	var req LoginRequest
	if statusCode, err := common.UnmarshalJSONRequestBody(w, r, &req); err != nil {
		common.WriteErrorResponse(w, statusCode, err.Error())
		return
	}

	acct, err := gs.store.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, datastore.ErrAccountNotFound) || errors.Is(err, datastore.ErrInvalidCredentials) {
			common.WriteErrorResponse(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		common.WriteErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	token, err := gs.tokenIssuer.IssueToken(acct.PlayerID)
	if err != nil {
		common.WriteErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	common.WriteResponse(w, http.StatusOK, common.ResponseData{
		"token":    token,
		"playerID": acct.PlayerID,
	})
}

func (gs *GameServer) signupHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		common.WriteErrorResponse(w, http.StatusMethodNotAllowed, "use POST")
		return
	}

	var req LoginRequest
	if statusCode, err := common.UnmarshalJSONRequestBody(w, r, &req); err != nil {
		common.WriteErrorResponse(w, statusCode, err.Error())
		return
	}
	if req.Username == "" || req.Password == "" {
		common.WriteErrorResponse(w, http.StatusBadRequest, "username and password are required")
		return
	}

	acct, err := gs.store.CreateAccount(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, datastore.ErrAccountExists) {
			common.WriteErrorResponse(w, http.StatusConflict, "username is taken")
			return
		}
		common.WriteErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	common.WriteResponse(w, http.StatusCreated, common.ResponseData{
		"playerID": acct.PlayerID,
		"username": acct.Username,
	})
}

// roomsHandler lists current rooms and their occupancy.
func (gs *GameServer) roomsHandler(w http.ResponseWriter, r *http.Request) {
	common.WriteJSONResponse(w, http.StatusOK, gs.rooms.Rooms())
}

func (gs *GameServer) healthzHandler(w http.ResponseWriter, r *http.Request) {
	if err := gs.store.Health(r.Context()); err != nil {
		common.WriteErrorResponse(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	common.WriteResponse(w, http.StatusOK, common.ResponseData{
		"status": "ok",
	})
}
