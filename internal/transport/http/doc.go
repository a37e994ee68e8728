// Package http implements the HTTP surface of the chat gateway.
//
// Handlers stay thin: they parse the request, call the chat gateway or the
// identity resolver, and render the result with go-chi/render. Errors are
// answered as RFC 7807 problem details through errors.ErrorHandler.
//
// # Endpoints
//
//	GET /ws/chat            websocket upgrade (credential in ?token= or Authorization: Bearer)
//	GET /api/chat/history   current history window, optional ?limit=n
//	GET /health             liveness, {"status":"ok"}
//	GET /api/health         chat stats, runtime stats and dependency checks
//
// The socket handler resolves the credential first, then upgrades and admits
// the connection. From then on the websocket client pumps own the socket.
package http
