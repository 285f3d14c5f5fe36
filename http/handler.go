package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-metrics"

	"github.com/stephnangue/azgraph/auth"
	"github.com/stephnangue/azgraph/clientcache"
	"github.com/stephnangue/azgraph/graph"
	"github.com/stephnangue/azgraph/logger"
)

const (
	maxRequestBodySize = int64(1 << 20) // 1MB
	accessTokenArg     = "access_token"
)

// ClientProvider is the slice of provider.ClientProvider the handlers use.
type ClientProvider interface {
	Mode() auth.Mode
	NewRequest(accessToken string) (auth.Request, error)
	GetClient(ctx context.Context, req auth.Request, opts graph.Options) (*graph.Client, error)
	Invalidate(ctx context.Context, req auth.Request, opts graph.Options) (bool, error)
	Clear()
	Stats() clientcache.Stats
}

// HandlerProperties contains configuration for the HTTP handler
type HandlerProperties struct {
	Provider ClientProvider
	Tools    *graph.Registry
	Logger   logger.Logger
	// GraphOptions are passed to every client lookup.
	GraphOptions graph.Options
	// SysEndpoints exposes cache inspection and flushing.
	SysEndpoints bool
	// Metrics backs /v1/sys/metrics when set.
	Metrics *metrics.InmemSink
}

// ToolCallRequest is the body of POST /v1/tools/{name}.
type ToolCallRequest struct {
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolCallResponse wraps a tool result.
type ToolCallResponse struct {
	Tool   string             `json:"tool"`
	Result *graph.QueryResult `json:"result"`
}

type handler struct {
	provider ClientProvider
	tools    *graph.Registry
	options  graph.Options
	metrics  *metrics.InmemSink
	logger   logger.Logger
}

// Handler creates and returns the main HTTP handler for azgraph.
func Handler(props *HandlerProperties) http.Handler {
	log := props.Logger
	if log == nil {
		log = logger.Nop()
	}
	tools := props.Tools
	if tools == nil {
		tools = graph.NewRegistry()
	}
	h := &handler{
		provider: props.Provider,
		tools:    tools,
		options:  props.GraphOptions,
		metrics:  props.Metrics,
		logger:   log.WithSubsystem("http"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "no handler for route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/sys/health", h.handleHealth)
		r.Get("/tools", h.handleListTools)
		r.Post("/tools/{name}", h.handleCallTool)
		r.Delete("/cache/client", h.handleInvalidate)

		if props.SysEndpoints {
			r.Get("/sys/cache", h.handleCacheStats)
			r.Post("/sys/cache/clear", h.handleCacheClear)
			r.Get("/sys/metrics", h.handleMetrics)
		}
	})

	return r
}

// requestLogger logs one line per request. Query strings are left out.
func requestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Debug("request completed",
					logger.String("request_id", middleware.GetReqID(r.Context())),
					logger.String("method", r.Method),
					logger.String("path", r.URL.Path),
					logger.Int("status", ww.Status()),
					logger.Duration("duration", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondOk(w, map[string]string{
		"status":    "ok",
		"auth_mode": string(h.provider.Mode()),
	})
}

func (h *handler) handleListTools(w http.ResponseWriter, r *http.Request) {
	respondOk(w, map[string]interface{}{"tools": h.tools.List()})
}

func (h *handler) handleCallTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := h.tools.Get(name); !ok {
		respondError(w, http.StatusNotFound, "unknown tool: "+name)
		return
	}

	var body ToolCallRequest
	if err := decodeBody(w, r, maxRequestBodySize, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	args := body.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}

	// The token may travel in the arguments for clients that cannot set
	// headers; it never reaches the tool.
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if argToken, ok := args[accessTokenArg].(string); ok && token == "" {
		token = argToken
	}
	delete(args, accessTokenArg)

	client, err := h.client(r.Context(), token)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}

	result, err := h.tools.Call(r.Context(), client, name, args)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}

	respondOk(w, &ToolCallResponse{Tool: name, Result: result})
}

func (h *handler) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	req, err := h.provider.NewRequest(auth.BearerToken(r.Header.Get("Authorization")))
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	removed, err := h.provider.Invalidate(r.Context(), req, h.options)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	respondOk(w, map[string]bool{"invalidated": removed})
}

func (h *handler) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	respondOk(w, h.provider.Stats())
}

func (h *handler) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	h.provider.Clear()
	h.logger.Info("caches cleared through the api",
		logger.String("request_id", middleware.GetReqID(r.Context())),
	)
	respondOk(w, map[string]bool{"cleared": true})
}

func (h *handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		respondError(w, http.StatusNotFound, "metrics are not enabled")
		return
	}
	summary, err := h.metrics.DisplayMetrics(w, r)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	respondOk(w, summary)
}

func (h *handler) client(ctx context.Context, token string) (*graph.Client, error) {
	req, err := h.provider.NewRequest(token)
	if err != nil {
		return nil, err
	}
	return h.provider.GetClient(ctx, req, h.options)
}

func (h *handler) respondFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	h.logger.Warn("request failed",
		logger.String("request_id", middleware.GetReqID(r.Context())),
		logger.Int("status", status),
		logger.Err(err),
	)
	respondError(w, status, message)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var rerr *graph.ResponseError
	switch {
	case errors.Is(err, auth.ErrAuthenticationFailed),
		errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrValidationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrTokenExchangeFailed):
		return http.StatusBadGateway
	case errors.Is(err, graph.ErrUnknownTool):
		return http.StatusNotFound
	case errors.Is(err, graph.ErrInvalidArguments):
		return http.StatusBadRequest
	case errors.As(err, &rerr):
		switch rerr.StatusCode {
		case http.StatusBadRequest, http.StatusTooManyRequests:
			return rerr.StatusCode
		default:
			return http.StatusBadGateway
		}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
