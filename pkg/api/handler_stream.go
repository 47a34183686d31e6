package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/forge/pkg/events"
	"github.com/codeready-toolchain/forge/pkg/models"
)

// streamGenerationHandler handles GET /api/v1/generations/:id/stream.
// Streams generation events as SSE data frames. The stream ends when the
// terminal event is delivered, the client disconnects, or the idle timeout
// expires.
func (s *Server) streamGenerationHandler(c *echo.Context) error {
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

	// A terminal generation whose event channel is gone gets a single
	// snapshot event so late subscribers see how it ended.
	if gen.Status.IsTerminal() && !s.bus.Has(generationID) {
		return s.streamSnapshot(c, gen)
	}

	sub, err := s.bus.Subscribe(generationID)
	if errors.Is(err, events.ErrStreamBusy) {
		return echo.NewHTTPError(http.StatusConflict, "stream already has an active subscriber")
	}
	if errors.Is(err, events.ErrChannelClosed) {
		// Drained but still within the channel TTL: fall back to the
		// stored record so reconnecting clients still see the outcome.
		if gen.Status.IsTerminal() {
			return s.streamSnapshot(c, gen)
		}
		return echo.NewHTTPError(http.StatusGone, "generation stream already ended")
	}
	if err != nil {
		return err
	}
	defer sub.Close()

	resp := c.Response()
	writeSSEHeaders(resp)

	keepalive := time.NewTicker(s.cfg.Stream.HeartbeatInterval)
	defer keepalive.Stop()
	idle := time.NewTimer(s.cfg.Stream.IdleTimeout)
	defer idle.Stop()

	reqCtx := c.Request().Context()
	for {
		select {
		case <-reqCtx.Done():
			return nil
		case <-idle.C:
			return nil
		case <-keepalive.C:
			if err := writeSSEComment(resp, "keepalive"); err != nil {
				return nil
			}
		case ev, ok := <-sub.Events():
			if !ok {
				// Terminal event delivered; stream is over.
				return nil
			}
			if err := writeSSEEvent(resp, ev); err != nil {
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

// streamSnapshot writes one terminal event reconstructed from the stored
// generation record, then ends the stream.
func (s *Server) streamSnapshot(c *echo.Context, gen *models.Generation) error {
	resp := c.Response()
	writeSSEHeaders(resp)
	_ = writeSSEEvent(resp, terminalSnapshot(gen))
	return nil
}

func writeSSEHeaders(resp http.ResponseWriter) {
	h := resp.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // Disable nginx buffering
	resp.WriteHeader(http.StatusOK)
	flushSSE(resp)
}

func writeSSEEvent(resp http.ResponseWriter, ev events.GenerationEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(resp, "data: %s\n\n", data); err != nil {
		return err
	}
	flushSSE(resp)
	return nil
}

func writeSSEComment(resp http.ResponseWriter, comment string) error {
	if _, err := fmt.Fprintf(resp, ": %s\n\n", comment); err != nil {
		return err
	}
	flushSSE(resp)
	return nil
}

func flushSSE(resp http.ResponseWriter) {
	if flusher, ok := resp.(http.Flusher); ok {
		flusher.Flush()
	}
}
