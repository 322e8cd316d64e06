package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	eventBuffer       = 64
	eventWriteTimeout = 5 * time.Second
	eventPingInterval = 30 * time.Second
)

// EventStream streams orchestrator events to a websocket client as JSON text
// frames until either side goes away. The current run status is sent first.
func (a *App) EventStream(w http.ResponseWriter, r *http.Request) {
	if a.Events == nil {
		a.error(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     originPatterns(a.Config.CORSAllowedOrigins),
		InsecureSkipVerify: a.Config.AppEnv == "development",
	})
	if err != nil {
		a.logger().Warn().Err(err).Msg("events: accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ch, unsubscribe := a.Events.Subscribe(eventBuffer)
	defer unsubscribe()

	ctx := conn.CloseRead(r.Context())
	if err := writeEvent(ctx, conn, map[string]any{"type": "run.status", "status": a.Orchestrator.Status()}); err != nil {
		return
	}

	ping := time.NewTicker(eventPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				a.logger().Debug().Err(err).Msg("events: write failed")
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

// originPatterns turns configured CORS origins into host patterns.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}
