// Package server exposes the HTTP surface of the record store: the REST
// routes mutation requests arrive on and the websocket endpoint sessions
// receive the broadcast stream from.
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pulseroom/pulseroom/internal/catalog"
	"github.com/pulseroom/pulseroom/internal/hub"
)

var errMissingHub = errors.New("broadcast hub dependency required")

// Dependencies carries the collaborators for the HTTP handler.
type Dependencies struct {
	Hub    *hub.Hub
	Logger *zap.Logger
}

// NewHTTPHandler builds the gin router for the API server.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Hub == nil {
		return nil, errMissingHub
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		hub:    deps.Hub,
		store:  deps.Hub.Store(),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	router.GET("/health", handler.handleHealth)
	router.GET("/ws", handler.handleWebsocket)

	api := router.Group("/api")
	api.GET("/tracks", handler.handleListTracks)
	api.GET("/playlists", handler.handleListPlaylists)
	api.POST("/playlists", handler.handleCreatePlaylist)
	api.DELETE("/playlists/:id", handler.handleDeletePlaylist)
	api.GET("/playlist", handler.handleListPlaylist)
	api.POST("/playlist", handler.handleAddItem)
	api.PATCH("/playlist/:id", handler.handleUpdateItem)
	api.POST("/playlist/:id/vote", handler.handleVote)
	api.DELETE("/playlist/:id", handler.handleRemoveItem)

	return router, nil
}

type httpHandler struct {
	hub      *hub.Hub
	store    *catalog.Store
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorPayload struct {
	Error errorBody `json:"error"`
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorPayload{Error: errorBody{Code: code, Message: message}})
}

// respondStoreError maps the store error taxonomy onto HTTP statuses and the
// wire error codes clients branch on.
func (h *httpHandler) respondStoreError(c *gin.Context, operation string, err error) {
	switch {
	case errors.Is(err, catalog.ErrDuplicateItem):
		respondError(c, http.StatusConflict, "DUPLICATE_TRACK", "This track is already in the playlist")
	case errors.Is(err, catalog.ErrTrackNotFound):
		respondError(c, http.StatusNotFound, "TRACK_NOT_FOUND", "Track not found")
	case errors.Is(err, catalog.ErrItemNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "Playlist track not found")
	case errors.Is(err, catalog.ErrPlaylistNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "Playlist not found")
	case errors.Is(err, catalog.ErrInvalidDirection):
		respondError(c, http.StatusBadRequest, "INVALID_DIRECTION", `direction must be "up" or "down"`)
	case errors.Is(err, catalog.ErrInvalidName):
		respondError(c, http.StatusBadRequest, "MISSING_NAME", "name is required")
	default:
		h.logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL", "request failed")
	}
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
}

func (h *httpHandler) handleWebsocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.hub.Attach(conn)
}

func (h *httpHandler) handleListTracks(c *gin.Context) {
	tracks, err := h.store.Tracks(c.Request.Context())
	if err != nil {
		h.respondStoreError(c, "list_tracks", err)
		return
	}
	c.JSON(http.StatusOK, tracks)
}

func (h *httpHandler) handleListPlaylists(c *gin.Context) {
	playlists, err := h.store.Playlists(c.Request.Context())
	if err != nil {
		h.respondStoreError(c, "list_playlists", err)
		return
	}
	c.JSON(http.StatusOK, playlists)
}

type createPlaylistPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Token       string `json:"token"`
}

func (h *httpHandler) handleCreatePlaylist(c *gin.Context) {
	var request createPlaylistPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}
	playlist, err := h.hub.CreatePlaylist(c.Request.Context(), request.Name, request.Description, request.Token)
	if err != nil {
		h.respondStoreError(c, "create_playlist", err)
		return
	}
	c.JSON(http.StatusCreated, playlist)
}

func (h *httpHandler) handleDeletePlaylist(c *gin.Context) {
	err := h.hub.DeletePlaylist(c.Request.Context(), c.Param("id"), c.Query("token"))
	if err != nil {
		h.respondStoreError(c, "delete_playlist", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListPlaylist(c *gin.Context) {
	ctx := c.Request.Context()
	playlistID := c.Query("playlist_id")
	if playlistID == "" {
		playlist, err := h.store.DefaultPlaylist(ctx)
		if err != nil {
			h.respondStoreError(c, "list_playlist", err)
			return
		}
		playlistID = playlist.ID
	}
	entries, err := h.store.PlaylistItems(ctx, playlistID)
	if err != nil {
		h.respondStoreError(c, "list_playlist", err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

type addItemPayload struct {
	TrackID    string `json:"track_id"`
	PlaylistID string `json:"playlist_id"`
	AddedBy    string `json:"added_by"`
	Token      string `json:"token"`
}

func (h *httpHandler) handleAddItem(c *gin.Context) {
	var request addItemPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.TrackID == "" {
		respondError(c, http.StatusBadRequest, "MISSING_TRACK_ID", "track_id is required")
		return
	}

	ctx := c.Request.Context()
	playlistID := request.PlaylistID
	if playlistID == "" {
		playlist, err := h.store.DefaultPlaylist(ctx)
		if err != nil {
			h.respondStoreError(c, "add_item", err)
			return
		}
		playlistID = playlist.ID
	}
	addedBy := request.AddedBy
	if addedBy == "" {
		addedBy = "Anonymous"
	}

	entry, err := h.hub.AddItem(ctx, playlistID, request.TrackID, addedBy, request.Token)
	if err != nil {
		h.respondStoreError(c, "add_item", err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

type updateItemPayload struct {
	Position  *float64 `json:"position"`
	IsPlaying *bool    `json:"is_playing"`
	Token     string   `json:"token"`
}

func (h *httpHandler) handleUpdateItem(c *gin.Context) {
	var request updateItemPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}
	if request.Position == nil && request.IsPlaying == nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "position or is_playing is required")
		return
	}

	ctx := c.Request.Context()
	itemID := c.Param("id")
	var updated *catalog.PlaylistTrack

	if request.Position != nil {
		item, err := h.hub.MoveItem(ctx, itemID, *request.Position, request.Token)
		if err != nil {
			h.respondStoreError(c, "move_item", err)
			return
		}
		updated = item
	}
	if request.IsPlaying != nil && *request.IsPlaying {
		item, err := h.hub.Activate(ctx, itemID, request.Token)
		if err != nil {
			h.respondStoreError(c, "activate_item", err)
			return
		}
		updated = item
	}
	if updated == nil {
		// Deactivation only ever happens as a side effect of activating a
		// sibling, so is_playing=false on its own is rejected.
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "is_playing may only be set to true")
		return
	}
	c.JSON(http.StatusOK, updated)
}

type votePayload struct {
	Direction string `json:"direction"`
	Token     string `json:"token"`
}

func (h *httpHandler) handleVote(c *gin.Context) {
	var request votePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_DIRECTION", `direction must be "up" or "down"`)
		return
	}
	direction, err := catalog.ParseVoteDirection(request.Direction)
	if err != nil {
		h.respondStoreError(c, "vote", err)
		return
	}
	result, err := h.hub.Vote(c.Request.Context(), c.Param("id"), direction, request.Token)
	if err != nil {
		h.respondStoreError(c, "vote", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleRemoveItem(c *gin.Context) {
	err := h.hub.RemoveItem(c.Request.Context(), c.Param("id"), c.Query("token"))
	if err != nil {
		h.respondStoreError(c, "remove_item", err)
		return
	}
	c.Status(http.StatusNoContent)
}
