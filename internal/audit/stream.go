package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsReadLimit    = 1024
	backlogDefault = 50
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamHandler upgrades to a websocket and writes recent events followed
// by live ones as JSON text frames. ?backlog=N controls the replay size.
// Callers authorize the request before reaching it.
func StreamHandler(rec *Recorder, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		backlog := backlogDefault
		if v, err := strconv.Atoi(r.URL.Query().Get("backlog")); err == nil && v >= 0 {
			backlog = v
		}

		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("audit stream upgrade failed", "err", err)
			return
		}
		defer func() { _ = conn.Close() }()
		conn.SetReadLimit(wsReadLimit)

		events, cancel := rec.Subscribe(0)
		defer cancel()

		// The read loop only exists to notice the peer going away.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
						logger.Debug("audit stream read error", "err", err)
					}
					return
				}
			}
		}()

		if backlog > 0 {
			for _, e := range rec.Recent(backlog) {
				if err := writeEvent(conn, e); err != nil {
					return
				}
			}
		}

		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			select {
			case <-gone:
				return
			case <-r.Context().Done():
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
			case e, ok := <-events:
				if !ok {
					return
				}
				if err := writeEvent(conn, e); err != nil {
					return
				}
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, e Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(e)
}
