package handler

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-sync/internal/model"
)

const (
	eventsBuffer    = 64
	eventsKeepAlive = 15 * time.Second
)

// Events отдаёт сигналы шины потоком server-sent events: по одному событию на сигнал,
// имя события совпадает с видом сигнала. Данных у сигнала нет.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	signals := make(chan model.SignalKind, eventsBuffer)
	sub := h.events.SubscribeAll(func(kind model.SignalKind) {
		select {
		case signals <- kind:
		default:
			h.logger.Warn("event stream is behind, signal dropped", zap.String("kind", string(kind)))
		}
	})
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		h.logger.Error("event stream flush error", zap.Error(err))
		return
	}

	ticker := time.NewTicker(eventsKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case kind := <-signals:
			if _, err := fmt.Fprintf(w, "event: %s\ndata: {}\n\n", kind); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
