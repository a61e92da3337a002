package http

import (
	"errors"
	"net/http"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"

	"github.com/gin-gonic/gin"
)

// TURNConfig carries the relay's connectivity credentials handed out on
// /turn-config. When no TURN server is configured, clients get the public
// STUN fallback.
type TURNConfig struct {
	URL        string
	Username   string
	Credential string
}

type RoomHandler struct {
	roomService ports.RoomService
	turn        TURNConfig
}

func NewRoomHandler(roomService ports.RoomService, turn TURNConfig) *RoomHandler {
	return &RoomHandler{
		roomService: roomService,
		turn:        turn,
	}
}

func (h *RoomHandler) SetupRoutes(router *gin.Engine, createRoomMiddleware ...gin.HandlerFunc) {
	api := router.Group("/api")
	{
		create := api.Group("")
		create.Use(createRoomMiddleware...)
		create.POST("/create-room", h.CreateRoom)

		api.GET("/room/:id/exists", h.RoomExists)
		api.POST("/room/:id/password/verify", h.VerifyPassword)
		api.POST("/room/:id/password", h.SetPassword)
		api.GET("/turn-config", h.TURNConfig)
		api.GET("/roulette", h.Roulette)
	}
}

func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req struct {
		Password string `json:"password"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	room, creatorToken, err := h.roomService.CreateRoom(c.Request.Context(), req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"room_id":       room.ID,
		"creator_token": creatorToken,
	})
}

func (h *RoomHandler) RoomExists(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	exists, passwordProtected, err := h.roomService.RoomExists(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"exists":             exists,
		"password_protected": passwordProtected,
	})
}

func (h *RoomHandler) VerifyPassword(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	var req struct {
		Password string `json:"password"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	valid, err := h.roomService.VerifyPassword(c.Request.Context(), roomID, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": valid})
}

func (h *RoomHandler) SetPassword(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	var req struct {
		Password     string `json:"password"`
		CreatorToken string `json:"creator_token" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.roomService.SetPassword(c.Request.Context(), roomID, req.Password, req.CreatorToken)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrRoomNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		case errors.Is(err, domain.ErrInvalidCreatorToken):
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid creator token"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// TURNConfig hands out ICE server credentials in the browser-shaped form.
func (h *RoomHandler) TURNConfig(c *gin.Context) {
	if h.turn.URL == "" {
		fallback := domain.DefaultICEConfig()
		c.JSON(http.StatusOK, gin.H{
			"iceServers": []gin.H{{"urls": fallback.URLs}},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"iceServers": []gin.H{{
			"urls":       []string{h.turn.URL},
			"username":   h.turn.Username,
			"credential": h.turn.Credential,
		}},
	})
}

// Roulette returns a random occupied room to drop into.
func (h *RoomHandler) Roulette(c *gin.Context) {
	roomID, err := h.roomService.RandomOccupied(c.Request.Context())
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No occupied rooms"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"room_id": roomID})
}
