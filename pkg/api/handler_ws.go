package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/forge/pkg/events"
	"github.com/codeready-toolchain/forge/pkg/models"
)

// wsWriteTimeout bounds a single WebSocket write so one stuck client cannot
// hold the subscription forever.
const wsWriteTimeout = 10 * time.Second

// wsGenerationHandler handles GET /api/v1/generations/:id/ws.
// Same gateway semantics as the SSE stream, over WebSocket: events are sent
// as JSON text messages, pings replace keepalive comments, and the
// connection closes after the terminal event.
func (s *Server) wsGenerationHandler(c *echo.Context) error {
	generationID := c.Param("id")
	if generationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "generation id is required")
	}
	if !s.tokens.Redeem(c.QueryParam("token"), generationID) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired stream token")
	}

	gen, err := s.generations.Get(c.Request().Context(), generationID)
	if err != nil {
		return mapServiceError(err)
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: s.cfg.Server.AllowedWSOrigins,
	})
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	ctx := c.Request().Context()

	// A terminal generation whose event channel is gone gets a single
	// snapshot event so late subscribers see how it ended.
	if gen.Status.IsTerminal() && !s.bus.Has(generationID) {
		_ = writeWSEvent(ctx, conn, terminalSnapshot(gen))
		conn.Close(websocket.StatusNormalClosure, "")
		return nil
	}

	sub, err := s.bus.Subscribe(generationID)
	if errors.Is(err, events.ErrStreamBusy) {
		conn.Close(websocket.StatusPolicyViolation, "stream already has an active subscriber")
		return nil
	}
	if err != nil {
		// Drained but still within the channel TTL: fall back to the
		// stored record so reconnecting clients still see the outcome.
		if errors.Is(err, events.ErrChannelClosed) && gen.Status.IsTerminal() {
			_ = writeWSEvent(ctx, conn, terminalSnapshot(gen))
		}
		conn.Close(websocket.StatusNormalClosure, "generation stream already ended")
		return nil
	}
	defer sub.Close()

	keepalive := time.NewTicker(s.cfg.Stream.HeartbeatInterval)
	defer keepalive.Stop()
	idle := time.NewTimer(s.cfg.Stream.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-idle.C:
			conn.Close(websocket.StatusNormalClosure, "idle timeout")
			return nil
		case <-keepalive.C:
			pingCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return nil
			}
		case ev, ok := <-sub.Events():
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return nil
			}
			if err := writeWSEvent(ctx, conn, ev); err != nil {
				return nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(s.cfg.Stream.IdleTimeout)
		}
	}
}

func terminalSnapshot(gen *models.Generation) events.GenerationEvent {
	if gen.Status == models.GenerationStatusCompleted {
		return events.Completed(gen.ID, "Generation completed")
	}
	return events.Failed(gen.ID, "Generation failed", gen.ErrorMessage)
}

func writeWSEvent(ctx context.Context, conn *websocket.Conn, ev events.GenerationEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
