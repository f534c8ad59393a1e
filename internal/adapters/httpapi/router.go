// Package httpapi wires the REST + WS surface of the facility service.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/avkor/facility/internal/config"
	"github.com/avkor/facility/internal/coordinator"
	"github.com/avkor/facility/internal/directory"
	"github.com/avkor/facility/internal/domain"
	"github.com/avkor/facility/internal/faults"
	"github.com/avkor/facility/internal/hub"
	"github.com/avkor/facility/internal/queue"
	"github.com/avkor/facility/internal/registry"
)

// Deps carries everything the routes touch.
type Deps struct {
	Hub         *hub.Hub
	Coordinator *coordinator.Coordinator
	Registry    *registry.Registry
	Faults      *faults.Aggregator
	Queue       *queue.Queue
	Directory   *directory.Directory
}

type scanRequest struct {
	Tag    string          `json:"tag"`
	Player domain.PlayerID `json:"player"`
}

// SetupRouter wires HTTP routes (REST + WS).
// - REST is under /api/*
// - WebSocket upgrade lives at /ws
func SetupRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	roomClient := &http.Client{Timeout: 5 * time.Second}

	api := r.Group("/api")

	// POST /api/rfid/booth/:booth_id: one kiosk scan. Blocks through the
	// confirm handshake and answers with the assigned destination.
	api.POST("/rfid/booth/:booth_id", func(c *gin.Context) {
		boothID := domain.BoothID(c.Param("booth_id"))
		var req scanRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid body"})
			return
		}

		roomID, err := d.Coordinator.ScanAtBooth(c.Request.Context(), boothID, req.Tag, req.Player)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"status": "ok", "destination": roomID})
		case errors.Is(err, coordinator.ErrMissingTag), errors.Is(err, coordinator.ErrMissingPlayer):
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		case errors.Is(err, coordinator.ErrAllRoomsBusy):
			c.JSON(http.StatusForbidden, gin.H{"status": "error", "message": err.Error()})
		case errors.Is(err, coordinator.ErrBoothNotConfirmed), errors.Is(err, coordinator.ErrRoomFaulted):
			c.JSON(http.StatusConflict, gin.H{"status": "error", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error"})
		}
	})

	// POST /api/rfid/game-room/:gra_id: one door scan.
	api.POST("/rfid/game-room/:gra_id", func(c *gin.Context) {
		roomID := domain.RoomID(c.Param("gra_id"))
		var req scanRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid body"})
			return
		}

		status, err := d.Coordinator.ScanAtRoom(c.Request.Context(), roomID, req.Tag, req.Player)
		switch {
		case err == nil && status == domain.ScanReady:
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		case err == nil:
			c.JSON(http.StatusAccepted, gin.H{"status": "waiting"})
		case errors.Is(err, coordinator.ErrMissingTag), errors.Is(err, coordinator.ErrMissingPlayer):
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		case errors.Is(err, coordinator.ErrRoomBusy),
			errors.Is(err, coordinator.ErrBoothNotConfirmed),
			errors.Is(err, coordinator.ErrNoPendingSession),
			errors.Is(err, coordinator.ErrScanMismatch),
			errors.Is(err, coordinator.ErrRoomFaulted):
			c.JSON(http.StatusConflict, gin.H{"status": "error", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error"})
		}
	})

	// POST /api/game-room/:gra_id/available: room heartbeat.
	api.POST("/game-room/:gra_id/available", func(c *gin.Context) {
		roomID := domain.RoomID(c.Param("gra_id"))
		var req struct {
			IsAvailable bool     `json:"isAvailable"`
			Enabled     bool     `json:"enabled"`
			RoomType    string   `json:"roomType"`
			Rules       []string `json:"rules"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid body"})
			return
		}
		d.Registry.SetAvailability(roomID, req.IsAvailable, req.Enabled, req.RoomType, req.Rules)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// POST /api/game-room/:gra_id/toggle-game-room-status: admin enable/disable.
	// The room-local service is told first; the registry only flips on its ack.
	api.POST("/game-room/:gra_id/toggle-game-room-status", func(c *gin.Context) {
		roomID := domain.RoomID(c.Param("gra_id"))
		var req struct {
			Enabled bool `json:"enabled"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid body"})
			return
		}

		url := fmt.Sprintf("http://%s:%d/api/toggle-room", roomID.Hostname(), cfg.RoomServicePort)
		if err := postJSON(c.Request.Context(), roomClient, url, gin.H{"enabled": req.Enabled}); err != nil {
			log.Warn().Err(err).Str("module", "httpapi").Str("room", string(roomID)).Msg("toggle forward failed")
			c.JSON(http.StatusBadGateway, gin.H{"status": "error", "message": "game room unreachable"})
			return
		}
		d.Registry.SetEnabled(roomID, req.Enabled)
		c.JSON(http.StatusOK, gin.H{"status": "ok", "enabled": req.Enabled})
	})

	// GET /api/game-room/:gra_id/is-upcoming-game-session
	api.GET("/game-room/:gra_id/is-upcoming-game-session", func(c *gin.Context) {
		roomID := domain.RoomID(c.Param("gra_id"))
		upcoming := d.Coordinator.HasPending(roomID)
		if !upcoming {
			if entry, ok := d.Coordinator.LastBooking(roomID); ok {
				upcoming = entry.BookRoomUntil.After(time.Now())
			}
		}
		c.JSON(http.StatusOK, gin.H{"upcoming": upcoming})
	})

	// POST /api/game-room/:gra_id/reset: clear a faulted scan state.
	api.POST("/game-room/:gra_id/reset", func(c *gin.Context) {
		d.Coordinator.Reset(domain.RoomID(c.Param("gra_id")))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// POST /api/report-error: error intake from terminals and room services.
	api.POST("/report-error", func(c *gin.Context) {
		var req struct {
			Source string `json:"source"`
			Error  string `json:"error"`
			Stack  string `json:"stack"`
		}
		if err := c.BindJSON(&req); err != nil || req.Error == "" {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid body"})
			return
		}
		if req.Source == "" {
			req.Source = faults.DefaultSource
		}
		d.Faults.Report(req.Source, req.Error, req.Stack)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Facility-session accounting.
	api.POST("/facility-session/create", func(c *gin.Context) {
		var req struct {
			PlayerID  domain.PlayerID `json:"player_id" binding:"required"`
			DurationM int             `json:"duration_m" binding:"required"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid body"})
			return
		}

		session, payload, err := d.Directory.StartFacilitySession(c.Request.Context(), req.PlayerID, req.DurationM)
		if err != nil {
			if errors.Is(err, directory.ErrPlayerNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error"})
			return
		}

		enqueueCentral(ctx, d.Queue, cfg.CentralURL+"/facility-session/create", payload)
		broadcastFacilitySession(d)
		c.JSON(http.StatusOK, gin.H{"status": "ok", "facility_session": session})
	})

	api.POST("/facility-session/add-time-credits", func(c *gin.Context) {
		var req struct {
			PlayerID    domain.PlayerID `json:"player_id" binding:"required"`
			AdditionalM int             `json:"additional_m" binding:"required"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid body"})
			return
		}

		session, fresh, payload, err := d.Directory.AddTimeCredits(req.PlayerID, req.AdditionalM)
		if err != nil {
			if errors.Is(err, directory.ErrNoActiveSession) {
				c.JSON(http.StatusConflict, gin.H{"status": "error", "message": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error"})
			return
		}

		endpoint := cfg.CentralURL + "/facility-session/add-time-credits"
		if fresh {
			endpoint = cfg.CentralURL + "/facility-session/create"
		}
		enqueueCentral(ctx, d.Queue, endpoint, payload)
		broadcastFacilitySession(d)
		c.JSON(http.StatusOK, gin.H{"status": "ok", "facility_session": session, "fresh": fresh})
	})

	api.GET("/facility-session", func(c *gin.Context) {
		now := time.Now()
		c.JSON(http.StatusOK, gin.H{
			"active": d.Directory.ActivePlayers(now),
			"recent": d.Directory.RecentPlayers(now),
		})
	})

	// POST /api/game-sessions: result upload from a room service.
	api.POST("/game-sessions", func(c *gin.Context) {
		var res directory.GameResult
		if err := c.BindJSON(&res); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid body"})
			return
		}
		payload := d.Directory.RecordGameResult(&res)
		enqueueCentral(ctx, d.Queue, cfg.CentralURL+"/game-sessions", payload)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ws", func(c *gin.Context) {
		d.Hub.HandleWS(ctx, c)
	})

	return r
}

func enqueueCentral(ctx context.Context, q *queue.Queue, endpoint string, payload any) {
	rec := queue.NewRecord(endpoint, payload)
	if err := q.Enqueue(ctx, queue.DestCentral, rec); err != nil {
		log.Error().Err(err).Str("module", "httpapi").Str("endpoint", endpoint).Msg("enqueue central call")
		return
	}
	go q.Run(ctx, queue.DestCentral)
}

func broadcastFacilitySession(d Deps) {
	now := time.Now()
	d.Hub.Broadcast(domain.GroupMonitor, gin.H{
		"type":   domain.MsgFacilitySession,
		"active": d.Directory.ActivePlayers(now),
		"recent": d.Directory.RecentPlayers(now),
	})
}

func postJSON(ctx context.Context, client *http.Client, url string, body any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: unexpected status %d", url, resp.StatusCode)
	}
	return nil
}
