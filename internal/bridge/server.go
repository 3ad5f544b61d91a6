package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sit-app/sit/internal/models"
	"github.com/sit-app/sit/internal/store"
	"github.com/sit-app/sit/internal/syncchannel"
)

// Websocket keepalive tuning for the phone end, which drives the pings.
const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Config holds bridge server settings.
type Config struct {
	Addr         string
	DeviceSecret string
	TokenExpiry  time.Duration
}

// Server is the phone bridge: sync endpoint for the watch plus state-push
// endpoints for the phone UI glue.
type Server struct {
	cfg     Config
	engine  *gin.Engine
	link    *PeerLink
	channel *syncchannel.Channel
	store   store.StateCache
}

// New creates a bridge Server over the phone's local state store.
func New(cfg Config, st store.StateCache) *Server {
	if cfg.TokenExpiry <= 0 {
		cfg.TokenExpiry = DefaultTokenExpiry
	}
	link := NewPeerLink()
	// Phone-side inbound handlers: the watch occasionally reports live state
	// (e.g. prompt responses while both apps are foregrounded); log only.
	channel := syncchannel.New(st, link, syncchannel.Handlers{
		OnLivePrompt: func(text string) {
			slog.Info("bridge: live message from watch", "text", text)
		},
	})
	// Flush pending reliable payloads as soon as a watch connects.
	link.SetReachabilityHandler(func(up bool) {
		if up {
			channel.Flush()
		}
	})

	s := &Server{cfg: cfg, link: link, channel: channel, store: st}
	s.engine = s.buildRouter()
	return s
}

// Channel exposes the phone end of the sync channel.
func (s *Server) Channel() *syncchannel.Channel { return s.channel }

// Router returns the HTTP handler, for tests and embedding.
func (s *Server) Router() http.Handler { return s.engine }

func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "watch_connected": s.link.Reachable()})
	})

	v1 := r.Group("/v1")
	v1.POST("/pair/token", s.handlePairToken)
	v1.GET("/pair/ws", s.handlePairWS)

	state := v1.Group("/state")
	state.PUT("/flow", s.handlePutFlow)
	state.PUT("/token", s.handlePutToken)
	state.PUT("/notification-settings", s.handlePutSettings)

	v1.POST("/prompt", s.handleLivePrompt)
	return r
}

func (s *Server) handlePairToken(c *gin.Context) {
	var req struct {
		DeviceID     string `json:"device_id"`
		DeviceSecret string `json:"device_secret"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.DeviceSecret == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_id and device_secret required"})
		return
	}
	if req.DeviceSecret != s.cfg.DeviceSecret {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid device secret"})
		return
	}
	token, err := CreatePairToken(req.DeviceID, s.cfg.DeviceSecret, s.cfg.TokenExpiry)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (s *Server) handlePairWS(c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid pairing token"})
		return
	}
	claims, err := VerifyPairToken(tokenString, s.cfg.DeviceSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid pairing token"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	slog.Info("bridge: watch connected", "deviceID", claims.DeviceID)

	s.link.Register(ws)
	defer func() {
		s.link.Unregister(ws)
		ws.Close()
		slog.Info("bridge: watch disconnected", "deviceID", claims.DeviceID)
	}()

	ws.SetReadLimit(1 << 20)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ticker.C:
				ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))
		s.channel.HandleMessage(data)
	}
}

func (s *Server) handlePutFlow(c *gin.Context) {
	var flow models.FlowDefinition
	if err := c.ShouldBindJSON(&flow); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := flow.Validate(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	s.putCanonical(store.SlotFlow, flow)
	if err := s.channel.SendReliable(syncchannel.TopicFlow, flow); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handlePutToken(c *gin.Context) {
	var p syncchannel.TokenPayload
	if err := c.ShouldBindJSON(&p); err != nil || p.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
		return
	}
	s.putCanonical(store.SlotAuthToken, p)
	if err := s.channel.SendReliable(syncchannel.TopicAuthToken, p); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handlePutSettings(c *gin.Context) {
	var settings models.NotificationSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := settings.Validate(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	s.putCanonical(store.SlotNotificationSettings, settings)
	if err := s.channel.SendReliable(syncchannel.TopicNotificationSettings, settings); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleLivePrompt(c *gin.Context) {
	var p syncchannel.LivePromptPayload
	if err := c.ShouldBindJSON(&p); err != nil || p.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text required"})
		return
	}
	err := s.channel.SendIfReachable(syncchannel.TopicLivePrompt, p)
	delivered := err == nil
	if err != nil && !errors.Is(err, syncchannel.ErrPeerUnreachable) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": delivered})
}

// putCanonical stores the phone's authoritative copy of a state value.
func (s *Server) putCanonical(slot string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("bridge: failed to encode canonical state", "slot", slot, "error", err)
		return
	}
	if err := s.store.PutSlot(slot, data); err != nil {
		slog.Error("bridge: failed to store canonical state", "slot", slot, "error", err)
	}
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.engine}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("bridge: listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
