package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aett-tours/tours-api/api/realtime"
	"github.com/aett-tours/tours-api/config"
)

// ChatSocket admits live chat connections
type ChatSocket struct {
	Registry *realtime.Registry
	Upgrader websocket.Upgrader
}

// ChatSocketHandler upgrades a request carrying a sessionId query parameter
// and keeps the connection registered for that session until it closes.
// Requests without a session id are rejected before the upgrade.
func (cs ChatSocket) ChatSocketHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("sessionId"))
	if sessionID == "" {
		config.ErrorStatus("missing sessionId", http.StatusBadRequest, w, errors.New("sessionId query parameter is required"))
		return
	}

	conn, err := cs.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an http error
		zap.S().Warnw("websocket upgrade error",
			"sessionId", sessionID,
			"error", err)
		return
	}

	realtime.NewClient(sessionID, conn).Serve(cs.Registry)
}

// originChecker allows requests from the configured origins. "*" allows any
// origin and requests without an Origin header are always allowed.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) || strings.EqualFold(a, u.Host) {
				return true
			}
		}
		return false
	}
}
