package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
)

// HandleWebSocket upgrades connections and runs them as hub clients.
// originPatterns restricts cross-origin browsers; empty allows same-origin
// only.
func HandleWebSocket(hub *Hub, originPatterns ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{OriginPatterns: originPatterns})
		if err != nil {
			slog.WarnContext(r.Context(), "WebSocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		slog.DebugContext(r.Context(), "WebSocket client connected", "clients", hub.ClientCount()+1)
		NewClient(hub, conn).Run(r.Context())
		conn.Close(ws.StatusNormalClosure, "")
	}
}
