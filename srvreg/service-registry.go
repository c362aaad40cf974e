package srvreg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MTES-MCT/trackdechets-sub032/lifecycle"
	"github.com/MTES-MCT/trackdechets-sub032/orchestrator"
	cmtlog "github.com/cometbft/cometbft/libs/log"
)

// Headers set by the authentication layer in front of the service.
const (
	HeaderActorID   = "X-Actor-Id"
	HeaderActorName = "X-Actor-Name"
	HeaderActorOrgs = "X-Actor-Orgs"
)

// Request represents the client's original HTTP request
type Request struct {
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	RemoteAddr string            `json:"remote_addr"`
	RequestID  string            `json:"request_id"` // Unique ID for the request
	Timestamp  time.Time         `json:"timestamp"`

	Actor  lifecycle.Actor   `json:"-"`
	Params map[string]string `json:"-"` // Path parameters of the matched route

	ctx context.Context
}

// Context returns the context of the HTTP request, or Background when the
// request was built by hand.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// Response represents the computed response from a server
type Response struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// ServiceHandler is a function type for service handlers
type ServiceHandler func(*Request) (*Response, error)

// RouteKey is used to uniquely identify a route
type RouteKey struct {
	Method string
	Path   string
}

// ServiceRegistry manages all service handlers
type ServiceRegistry struct {
	handlers     map[RouteKey]ServiceHandler
	exactRoutes  map[RouteKey]bool // Whether a route is exact or pattern-based
	mu           sync.RWMutex
	orchestrator *orchestrator.Orchestrator
	logger       cmtlog.Logger
}

// ConvertHttpRequest converts an http.Request to Request, reading the
// acting user from the authentication headers.
func ConvertHttpRequest(r *http.Request, requestID string) (*Request, error) {
	// Extract headers
	headers := make(map[string]string)
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	// Read body if present
	body := ""
	if r.Body != nil {
		bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
		if err != nil {
			return nil, err
		}
		body = compactJSON(strings.TrimSpace(string(bodyBytes)))
	}

	return &Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		Headers:    headers,
		Body:       body,
		RemoteAddr: r.RemoteAddr,
		RequestID:  requestID,
		Timestamp:  time.Now(),
		Actor:      actorFromHeaders(r.Header),
		ctx:        r.Context(),
	}, nil
}

func actorFromHeaders(h http.Header) lifecycle.Actor {
	actor := lifecycle.Actor{
		ID:   strings.TrimSpace(h.Get(HeaderActorID)),
		Name: strings.TrimSpace(h.Get(HeaderActorName)),
	}
	for _, org := range strings.Split(h.Get(HeaderActorOrgs), ",") {
		if org = strings.TrimSpace(org); org != "" {
			actor.OrgIDs = append(actor.OrgIDs, org)
		}
	}
	return actor
}

// NewServiceRegistry creates a new service registry
func NewServiceRegistry(orch *orchestrator.Orchestrator, logger cmtlog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		handlers:     make(map[RouteKey]ServiceHandler),
		exactRoutes:  make(map[RouteKey]bool),
		orchestrator: orch,
		logger:       logger,
	}
}

// RegisterHandler registers a new service handler
func (sr *ServiceRegistry) RegisterHandler(method, path string, isExactPath bool, handler ServiceHandler) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	key := RouteKey{Method: strings.ToUpper(method), Path: path}
	sr.handlers[key] = handler
	sr.exactRoutes[key] = isExactPath
}

// GetHandlerForPath finds the handler for a given path. It returns the
// path parameters of the matched pattern and whether a handler was found.
func (sr *ServiceRegistry) GetHandlerForPath(method, path string) (ServiceHandler, map[string]string, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	// Try exact match first
	key := RouteKey{Method: strings.ToUpper(method), Path: path}
	if handler, ok := sr.handlers[key]; ok {
		if sr.exactRoutes[key] {
			return handler, nil, true
		}
	}

	// Try pattern matching
	for routeKey, handler := range sr.handlers {
		if routeKey.Method != strings.ToUpper(method) {
			continue
		}

		// Skip exact routes in pattern matching
		if sr.exactRoutes[routeKey] {
			continue
		}

		if params, ok := matchPath(routeKey.Path, path); ok {
			return handler, params, true
		}
	}

	return nil, nil, false
}

// matchPath does simple pattern matching for routes.
// It supports patterns like "/bsds/:id" matching "/bsds/BSD-123"
func matchPath(pattern, path string) (map[string]string, bool) {
	patternParts := strings.Split(pattern, "/")
	pathParts := strings.Split(path, "/")

	if len(patternParts) != len(pathParts) {
		return nil, false
	}

	params := make(map[string]string)
	for i := range len(patternParts) {
		if name, ok := strings.CutPrefix(patternParts[i], ":"); ok {
			// This is a parameter part, it matches any non-empty segment
			if pathParts[i] == "" {
				return nil, false
			}
			params[name] = pathParts[i]
			continue
		}

		if patternParts[i] != pathParts[i] {
			return nil, false
		}
	}

	return params, true
}

// RegisterDefaultServices sets up the bordereau lifecycle routes
func (sr *ServiceRegistry) RegisterDefaultServices() {
	// Bordereaux
	sr.RegisterHandler("POST", "/bsds", true, sr.CreateBsdHandler)
	sr.RegisterHandler("GET", "/bsds/:id", false, sr.GetBsdHandler)
	sr.RegisterHandler("PUT", "/bsds/:id", false, sr.UpdateBsdHandler)
	sr.RegisterHandler("DELETE", "/bsds/:id", false, sr.DeleteBsdHandler)
	sr.RegisterHandler("GET", "/bsds/:id/events", false, sr.BsdEventsHandler)

	// Signatures
	sr.RegisterHandler("POST", "/bsds/:id/finalize", false, sr.FinalizeBsdHandler)
	sr.RegisterHandler("POST", "/bsds/:id/sign", false, sr.SignBsdHandler)
	sr.RegisterHandler("POST", "/bsds/:id/reseal", false, sr.ResealBsdHandler)

	// Relations
	sr.RegisterHandler("POST", "/bsds/:id/links", false, sr.LinkHandler)
	sr.RegisterHandler("DELETE", "/bsds/:id/links/:childId", false, sr.UnlinkHandler)

	// Revision requests
	sr.RegisterHandler("GET", "/bsds/:id/revision-requests", false, sr.ListRevisionRequestsHandler)
	sr.RegisterHandler("POST", "/bsds/:id/revision-requests", false, sr.CreateRevisionRequestHandler)
	sr.RegisterHandler("POST", "/revision-requests/:id/approve", false, sr.ApproveRevisionRequestHandler)
	sr.RegisterHandler("POST", "/revision-requests/:id/cancel", false, sr.CancelRevisionRequestHandler)
}

// GenerateResponse executes the request and generates a response
func (req *Request) GenerateResponse(services *ServiceRegistry) (*Response, error) {
	// Find the appropriate service handler for this request
	handler, params, found := services.GetHandlerForPath(req.Method, req.Path)
	if !found {
		services.logger.Debug("Service registry handler not found", "method", req.Method, "path", req.Path)
		return errorResponse(http.StatusNotFound, fmt.Sprintf("Service not found for %s %s", req.Method, req.Path), nil), nil
	}
	req.Params = params

	return handler(req)
}

func compactJSON(body string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(body)); err != nil {
		// If it's not JSON, return trimmed original
		return strings.TrimSpace(body)
	}
	return buf.String()
}
