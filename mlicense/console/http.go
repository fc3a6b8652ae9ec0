package console

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"github.com/CloudNativeWorks/cnw-machine-license/mlicense"
)

// OpsPath is the route prefix for dispatched operations.
const OpsPath = "/v1/ops"

// ErrResponse is returned when a request cannot be dispatched. Operation
// failures are not ErrResponses; they come back as 200 with ok=false.
type ErrResponse struct {
	HTTPStatusCode int    `json:"-"`
	Error          string `json:"error"`
	Code           string `json:"code"`
}

// Render implements render.Renderer.
func (e *ErrResponse) Render(_ http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func errInvalidRequest(err error) render.Renderer {
	return &ErrResponse{
		HTTPStatusCode: http.StatusBadRequest,
		Error:          err.Error(),
		Code:           mlicense.CodeUsage,
	}
}

func errInternal(err error) render.Renderer {
	return &ErrResponse{
		HTTPStatusCode: http.StatusInternalServerError,
		Error:          err.Error(),
		Code:           mlicense.CodeInternal,
	}
}

func errForbidden(err error) render.Renderer {
	return &ErrResponse{
		HTTPStatusCode: http.StatusForbidden,
		Error:          err.Error(),
		Code:           mlicense.CodeUsage,
	}
}

func errUnauthorized() render.Renderer {
	return &ErrResponse{
		HTTPStatusCode: http.StatusUnauthorized,
		Error:          "missing or invalid bearer token",
		Code:           mlicense.CodeUsage,
	}
}

// Bind implements render.Binder.
func (*SignLicenseRequest) Bind(*http.Request) error { return nil }

// Bind implements render.Binder and requires non-empty content.
func (req *SaveArtifactRequest) Bind(*http.Request) error {
	if req.Content == "" {
		return errors.New("content is required")
	}
	return nil
}

// HandlerOption configures NewHandler.
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	token string
}

// RequireBearerToken rejects requests without an
// "Authorization: Bearer <token>" header.
func RequireBearerToken(token string) HandlerOption {
	return func(c *handlerConfig) {
		c.token = token
	}
}

// NewToken returns a random token for RequireBearerToken.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewHandler exposes d over HTTP for a browser front end. The handler only
// decodes requests and dispatches them.
//
// Requests must name a loopback Host, carry no foreign Origin and send
// their body as application/json, so other web pages open in the
// operator's browser cannot reach the backend.
func NewHandler(d Dispatcher, log logrus.FieldLogger, opts ...HandlerOption) http.Handler {
	var cfg handlerConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(render.SetContentType(render.ContentTypeJSON))
	r.Use(localOnly)
	r.Use(middleware.AllowContentType("application/json"))
	if cfg.token != "" {
		r.Use(requireBearerToken(cfg.token))
	}

	r.Route(OpsPath, func(r chi.Router) {
		r.Post("/"+string(OpPickPrivateKey), func(w http.ResponseWriter, r *http.Request) {
			dispatch(w, r, d, PickPrivateKeyRequest{})
		})
		r.Post("/"+string(OpSignLicense), func(w http.ResponseWriter, r *http.Request) {
			req := &SignLicenseRequest{}
			if err := render.Bind(r, req); err != nil {
				_ = render.Render(w, r, errInvalidRequest(err))
				return
			}
			dispatch(w, r, d, *req)
		})
		r.Post("/"+string(OpSaveArtifact), func(w http.ResponseWriter, r *http.Request) {
			req := &SaveArtifactRequest{}
			if err := render.Bind(r, req); err != nil {
				_ = render.Render(w, r, errInvalidRequest(err))
				return
			}
			dispatch(w, r, d, *req)
		})
	})
	return r
}

func dispatch(w http.ResponseWriter, r *http.Request, d Dispatcher, req Request) {
	resp, err := d.Dispatch(r.Context(), req)
	if err != nil {
		_ = render.Render(w, r, errInternal(err))
		return
	}
	render.JSON(w, r, resp)
}

func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"method":    r.Method,
				"path":      r.URL.Path,
				"status":    ww.Status(),
				"requestId": middleware.GetReqID(r.Context()),
			}).Debug("request served")
		})
	}
}

// localOnly rejects requests whose Host or Origin is not a loopback name.
func localOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isLoopbackHost(r.Host) {
			_ = render.Render(w, r, errForbidden(fmt.Errorf("host %q is not allowed", r.Host)))
			return
		}
		if origin := r.Header.Get("Origin"); origin != "" {
			u, err := url.Parse(origin)
			if err != nil || !isLoopbackHost(u.Host) {
				_ = render.Render(w, r, errForbidden(fmt.Errorf("origin %q is not allowed", origin)))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func requireBearerToken(token string) func(http.Handler) http.Handler {
	want := []byte("Bearer " + token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				_ = render.Render(w, r, errUnauthorized())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// isLoopbackHost accepts "localhost" or a loopback IP, with or without a
// port.
func isLoopbackHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// CheckLoopback rejects listen addresses that are not bound to a loopback
// interface.
func CheckLoopback(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%w: listen address %q: %v", mlicense.ErrUsage, addr, err)
	}
	if isLoopbackHost(addr) {
		return nil
	}
	return fmt.Errorf("%w: listen address %q is not a loopback address", mlicense.ErrUsage, addr)
}

// HTTPDispatcher sends requests to a handler created by NewHandler.
type HTTPDispatcher struct {
	baseURL string
	client  *http.Client
	token   string
}

var _ Dispatcher = (*HTTPDispatcher)(nil)

// HTTPDispatcherOption configures an HTTPDispatcher.
type HTTPDispatcherOption func(*HTTPDispatcher)

// WithBearerToken sends token in the Authorization header of every request.
func WithBearerToken(token string) HTTPDispatcherOption {
	return func(h *HTTPDispatcher) {
		h.token = token
	}
}

// NewHTTPDispatcher creates a dispatcher for the server at baseURL. A nil
// client uses http.DefaultClient.
func NewHTTPDispatcher(baseURL string, client *http.Client, opts ...HTTPDispatcherOption) *HTTPDispatcher {
	if client == nil {
		client = http.DefaultClient
	}
	h := &HTTPDispatcher{baseURL: strings.TrimRight(baseURL, "/"), client: client}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Dispatch posts req to the server and decodes the matching response type.
func (h *HTTPDispatcher) Dispatch(ctx context.Context, req Request) (Response, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", mlicense.ErrUsage)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	endpoint := h.baseURL + OpsPath + "/" + string(req.Op())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.token)
	}

	httpResp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Op(), err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		var e ErrResponse
		if err := json.NewDecoder(httpResp.Body).Decode(&e); err != nil || e.Error == "" {
			return nil, fmt.Errorf("%s: unexpected status %d", req.Op(), httpResp.StatusCode)
		}
		return nil, responseError(e.Error, e.Code)
	}

	var resp Response
	switch req.(type) {
	case PickPrivateKeyRequest:
		var r PickPrivateKeyResponse
		err = json.NewDecoder(httpResp.Body).Decode(&r)
		resp = r
	case SignLicenseRequest:
		var r SignLicenseResponse
		err = json.NewDecoder(httpResp.Body).Decode(&r)
		resp = r
	case SaveArtifactRequest:
		var r SaveArtifactResponse
		err = json.NewDecoder(httpResp.Body).Decode(&r)
		resp = r
	default:
		return nil, fmt.Errorf("%w: unsupported request %T", mlicense.ErrUsage, req)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s response: %w", req.Op(), err)
	}
	return resp, nil
}
