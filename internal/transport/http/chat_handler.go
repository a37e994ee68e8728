package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"

	"pricewatch/internal/chat"
	"pricewatch/internal/config"
	apierrors "pricewatch/internal/errors"
	"pricewatch/internal/identity"
	"pricewatch/internal/infrastructure"
	"pricewatch/internal/middleware"
	ws "pricewatch/internal/websocket"
)

// ChatGateway is the part of chat.Gateway the HTTP surface drives
type ChatGateway interface {
	Admit(ctx context.Context, who identity.Identity, t chat.Transport) (*chat.Connection, error)
	HandleFrame(ctx context.Context, connID string, data []byte) error
	Remove(ctx context.Context, connID string)
	History() []chat.Message
	Stats() chat.Stats
}

// IdentityResolver turns a raw credential into an identity
type IdentityResolver interface {
	Resolve(ctx context.Context, credential string) identity.Identity
}

// HistoryResponse is the polling fallback payload
type HistoryResponse struct {
	Messages []chat.Message `json:"messages"`
	Count    int            `json:"count"`
	Capacity int            `json:"capacity"`
}

// ChatHandler serves the chat socket and the history endpoint
type ChatHandler struct {
	gateway        ChatGateway
	resolver       IdentityResolver
	upgrader       websocket.Upgrader
	clientOpts     ws.Options
	allowedOrigins []string
	logger         *slog.Logger
	errorHandler   *apierrors.ErrorHandler
}

// NewChatHandler creates a chat handler
func NewChatHandler(
	gateway ChatGateway,
	resolver IdentityResolver,
	wsCfg config.WebSocketConfig,
	allowedOrigins []string,
	logger *slog.Logger,
	errorHandler *apierrors.ErrorHandler,
) *ChatHandler {
	h := &ChatHandler{
		gateway:        gateway,
		resolver:       resolver,
		clientOpts:     ws.OptionsFromConfig(wsCfg),
		allowedOrigins: allowedOrigins,
		logger:         infrastructure.WithComponent(logger, "chat_handler"),
		errorHandler:   errorHandler,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  wsCfg.ReadBufferSize,
		WriteBufferSize: wsCfg.WriteBufferSize,
		CheckOrigin:     h.checkOrigin,
		Error:           h.upgradeError,
	}
	return h
}

// Routes returns the chat API routes, mounted under /api/chat
func (h *ChatHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))
	r.Get("/history", h.GetHistory)
	return r
}

// ServeWS handles GET /ws/chat. A refused origin is answered before any
// credential work; the credential is then resolved ahead of the upgrade so a
// slow verifier never holds the gateway lock.
func (h *ChatHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ctx := infrastructure.EnsureTraceID(r.Context())

	if !h.checkOrigin(r) {
		h.upgradeError(w, r, http.StatusForbidden, errors.New("origin not allowed"))
		return
	}

	who := h.resolver.Resolve(ctx, identity.CredentialFromRequest(r))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered through upgradeError
		h.logger.WarnContext(ctx, "websocket upgrade failed",
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr))
		return
	}

	client := ws.NewClient(ws.NewConnectionWrapper(conn), h.clientOpts, h.logger)
	admitted, err := h.gateway.Admit(ctx, who, client)
	if err != nil {
		h.logger.ErrorContext(ctx, "chat admission failed",
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "admission failed"))
		_ = client.Close()
		_ = conn.Close()
		return
	}

	h.logger.InfoContext(ctx, "chat connection admitted",
		slog.String("connection_id", admitted.ID),
		slog.Bool("guest", who.IsGuest()),
		slog.String("user_id", who.UserID),
		slog.String("remote_addr", r.RemoteAddr))

	// The request context ends when this handler returns; the pumps outlive it
	client.Serve(context.WithoutCancel(ctx), h.gateway, admitted.ID)
}

// GetHistory handles GET /api/chat/history
func (h *ChatHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	messages := h.gateway.History()

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.errorHandler.HandleError(w, r,
				apierrors.ErrValidation("limit", "limit must be a non-negative integer"))
			return
		}
		if limit < len(messages) {
			messages = messages[len(messages)-limit:]
		}
	}

	render.JSON(w, r, HistoryResponse{
		Messages: messages,
		Count:    len(messages),
		Capacity: h.gateway.Stats().HistoryCapacity,
	})
}

// checkOrigin accepts requests without an Origin header, same-host requests
// and origins on the allow list.
func (h *ChatHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}

	allowed := middleware.OriginAllowed(origin, h.allowedOrigins)
	if !allowed {
		h.logger.WarnContext(r.Context(), "websocket origin refused",
			slog.String("origin", origin),
			slog.String("remote_addr", r.RemoteAddr))
	}
	return allowed
}

// upgradeError answers a refused or failed upgrade with an RFC 7807 body
func (h *ChatHandler) upgradeError(w http.ResponseWriter, r *http.Request, status int, reason error) {
	apiErr := apierrors.ErrWebSocketUpgrade
	switch {
	case status == http.StatusForbidden:
		apiErr = apierrors.ErrOriginRefused
	case status < http.StatusInternalServerError:
		apiErr = apierrors.New(status, "WEBSOCKET_UPGRADE_FAILED", reason.Error())
	}

	problem := h.errorHandler.ErrorToProblem(apiErr, r).
		WithExtension("trace_id", middleware.GetRequestID(r.Context()))

	_ = render.Render(w, r, problem)
}
