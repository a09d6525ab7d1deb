// Package ws implements the WebSocket hub for spc-server.
//
// Hub manages a set of connected clients and broadcasts the live SPC
// dashboard to all of them on the configured stream interval (default 5s).
//
// New(store, alerts, sources, interval) creates a Hub.
// Hub.Run(ctx) starts the broadcast ticker and blocks until ctx is cancelled,
// then closes all active connections.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket, sends the current
// dashboard immediately on connect, then streams updates on each tick.
//
// Message format sent to clients:
//
//	{
//	  "event": "dashboard",
//	  "data": {
//	    "data_points": [ /* newest first, at most 50 */ ],
//	    "counts":      { "in_control": 12, "out_of_control": 1 },
//	    "alerts":      [ /* same schema as GET /api/v1/alerts */ ],
//	    "sources":     [ /* agent gateways seen within the TTL */ ],
//	    "generated_at": "2026-03-01T08:00:00Z"
//	  }
//	}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. The endpoint is mounted at /ws/stream by the server.
package ws
