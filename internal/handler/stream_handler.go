package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/boddenberg/etudes-bfa-go/internal/domain"
	"github.com/boddenberg/etudes-bfa-go/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Live feed: GET /v1/studies/stream (Server-Sent Events)
// ============================================================

const streamHeartbeat = 25 * time.Second

// streamHandler pushes a "studies" and a "kpis" event on connect and after
// every published snapshot. A slow client only gets the latest snapshot.
func streamHandler(feed *service.Feed, dashboard *service.DashboardService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		rc := http.NewResponseController(w)

		// Streams outlive the server write timeout.
		_ = rc.SetWriteDeadline(time.Time{})

		updates := make(chan []domain.Study, 1)
		unlisten := feed.Listen(func(rows []domain.Study) {
			for {
				select {
				case updates <- rows:
					return
				default:
				}
				select {
				case <-updates:
				default:
				}
			}
		})
		defer unlisten()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		var seq int
		send := func(rows []domain.Study) error {
			seq++
			if err := writeEvent(w, seq, "studies", rows); err != nil {
				return err
			}
			if err := writeEvent(w, seq, "kpis", dashboard.Build(rows)); err != nil {
				return err
			}
			return rc.Flush()
		}

		if rows, err := feed.Snapshot(ctx); err != nil {
			logger.Warn("stream: initial snapshot failed", zap.Error(err))
			_ = writeEvent(w, 0, "error", errorResponse{Error: "snapshot unavailable"})
			_ = rc.Flush()
		} else if err := send(rows); err != nil {
			return
		}

		ticker := time.NewTicker(streamHeartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case rows := <-updates:
				if err := send(rows); err != nil {
					logger.Debug("stream: client gone", zap.Error(err))
					return
				}
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				if err := rc.Flush(); err != nil {
					return
				}
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, id int, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, payload)
	return err
}
