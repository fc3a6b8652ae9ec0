package console

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/CloudNativeWorks/cnw-machine-license/internal/logging"
	"github.com/CloudNativeWorks/cnw-machine-license/mlicense"
)

func TestHTTP_RoundTrip(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()
	fs := keyFs(t)
	g.Expect(fs.MkdirAll("/out", 0o755)).To(Succeed())
	host := &StaticHost{Fs: fs, KeyPath: privPath, OutputDir: "/out"}
	backend := NewBackend(mlicense.NewSigner(mlicense.WithSignerFs(fs)), host)

	srv := httptest.NewServer(NewHandler(backend, logging.Discard(), RequireBearerToken("s3cret")))
	defer srv.Close()

	s := NewSession(NewHTTPDispatcher(srv.URL, srv.Client(), WithBearerToken("s3cret")))
	s.now = fixedNow

	_, err := s.SelectKey(ctx)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(s.KeyPath()).To(Equal(privPath))

	lic, err := s.Issue(ctx, "M-123", "alice", "", "2025-01-01T00:00:00.000Z")
	g.Expect(err).ToNot(HaveOccurred())

	path, err := s.Save(ctx, lic)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(path).To(Equal("/out/license-M-123.json"))

	_, err = verifierAt(fs, "2024-06-01T00:00:00Z").VerifyFile(path, pubPath, "M-123")
	g.Expect(err).ToNot(HaveOccurred())

	_, err = verifierAt(fs, "2025-06-01T00:00:00Z").VerifyFile(path, pubPath, "M-123")
	g.Expect(err).To(MatchError(mlicense.ErrExpired))
}

func TestHTTP_FailuresTravelInBody(t *testing.T) {
	g := NewWithT(t)
	backend := NewBackend(mlicense.NewSigner(mlicense.WithSignerFs(keyFs(t))), &fakeHost{})
	srv := httptest.NewServer(NewHandler(backend, logging.Discard()))
	defer srv.Close()

	body := `{"claims":{"machineId":"M-123","username":"alice","issuedAt":"2024-01-01T00:00:00.000Z","expiresAt":"2025-01-01T00:00:00.000Z"},"keyPath":"/keys/missing.der"}`
	resp, err := http.Post(srv.URL+"/v1/ops/sign-license", "application/json", strings.NewReader(body))
	g.Expect(err).ToNot(HaveOccurred())
	defer resp.Body.Close()
	g.Expect(resp.StatusCode).To(Equal(http.StatusOK))

	var r SignLicenseResponse
	g.Expect(json.NewDecoder(resp.Body).Decode(&r)).To(Succeed())
	g.Expect(r.OK).To(BeFalse())
	g.Expect(r.Code).To(Equal(mlicense.CodeKeyLoad))
}

func TestHTTP_CancelledPick(t *testing.T) {
	g := NewWithT(t)
	srv := httptest.NewServer(NewHandler(NewBackend(mlicense.NewSigner(), &fakeHost{}), logging.Discard()))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/ops/pick-private-key", "application/json", nil)
	g.Expect(err).ToNot(HaveOccurred())
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(string(data)).To(MatchJSON(`{"cancelled":true}`))
}

func TestHTTP_MalformedRequests(t *testing.T) {
	srv := httptest.NewServer(NewHandler(NewBackend(mlicense.NewSigner(), &fakeHost{}), logging.Discard()))
	defer srv.Close()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{name: "invalid json", method: http.MethodPost, path: "/v1/ops/sign-license", body: "{", status: http.StatusBadRequest},
		{name: "empty body", method: http.MethodPost, path: "/v1/ops/sign-license", body: "", status: http.StatusBadRequest},
		{name: "save without content", method: http.MethodPost, path: "/v1/ops/save-artifact", body: `{"defaultName":"x.json"}`, status: http.StatusBadRequest},
		{name: "unknown op", method: http.MethodPost, path: "/v1/ops/read-private-key", body: "{}", status: http.StatusNotFound},
		{name: "wrong method", method: http.MethodGet, path: "/v1/ops/sign-license", status: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
			g.Expect(err).ToNot(HaveOccurred())
			req.Header.Set("Content-Type", "application/json")

			resp, err := srv.Client().Do(req)
			g.Expect(err).ToNot(HaveOccurred())
			defer resp.Body.Close()
			g.Expect(resp.StatusCode).To(Equal(tt.status))

			if tt.status == http.StatusBadRequest {
				var e ErrResponse
				g.Expect(json.NewDecoder(resp.Body).Decode(&e)).To(Succeed())
				g.Expect(e.Code).To(Equal(mlicense.CodeUsage))
			}
		})
	}
}

// countingDispatcher records how many requests reach the backend.
type countingDispatcher struct {
	Dispatcher
	calls atomic.Int32
}

func (c *countingDispatcher) Dispatch(ctx context.Context, req Request) (Response, error) {
	c.calls.Add(1)
	return c.Dispatcher.Dispatch(ctx, req)
}

func TestHTTP_RejectsForeignRequests(t *testing.T) {
	const signBody = `{"claims":{"machineId":"M-123","username":"alice","issuedAt":"2024-01-01T00:00:00.000Z","expiresAt":"2025-01-01T00:00:00.000Z"},"keyPath":"/keys/private_key.der"}`

	tests := []struct {
		name        string
		path        string
		body        string
		contentType string
		host        string
		origin      string
		token       string
		status      int
	}{
		{name: "authorized", path: "/v1/ops/sign-license", body: signBody, contentType: "application/json", token: "s3cret", status: http.StatusOK},
		{name: "loopback origin", path: "/v1/ops/sign-license", body: signBody, contentType: "application/json", origin: "http://localhost:7311", token: "s3cret", status: http.StatusOK},
		{name: "json with charset", path: "/v1/ops/sign-license", body: signBody, contentType: "application/json; charset=utf-8", token: "s3cret", status: http.StatusOK},
		{name: "text/plain body", path: "/v1/ops/sign-license", body: signBody, contentType: "text/plain", token: "s3cret", status: http.StatusUnsupportedMediaType},
		{name: "form body", path: "/v1/ops/save-artifact", body: "content=x", contentType: "application/x-www-form-urlencoded", token: "s3cret", status: http.StatusUnsupportedMediaType},
		{name: "foreign host", path: "/v1/ops/sign-license", body: signBody, contentType: "application/json", host: "evil.example:7311", token: "s3cret", status: http.StatusForbidden},
		{name: "foreign origin", path: "/v1/ops/sign-license", body: signBody, contentType: "application/json", origin: "https://evil.example", token: "s3cret", status: http.StatusForbidden},
		{name: "null origin", path: "/v1/ops/save-artifact", body: `{"content":"x"}`, contentType: "application/json", origin: "null", token: "s3cret", status: http.StatusForbidden},
		{name: "missing token", path: "/v1/ops/sign-license", body: signBody, contentType: "application/json", status: http.StatusUnauthorized},
		{name: "wrong token", path: "/v1/ops/pick-private-key", body: "{}", contentType: "application/json", token: "guess", status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			fs := keyFs(t)
			d := &countingDispatcher{Dispatcher: NewBackend(mlicense.NewSigner(mlicense.WithSignerFs(fs)), &StaticHost{Fs: fs})}
			srv := httptest.NewServer(NewHandler(d, logging.Discard(), RequireBearerToken("s3cret")))
			defer srv.Close()

			req, err := http.NewRequest(http.MethodPost, srv.URL+tt.path, strings.NewReader(tt.body))
			g.Expect(err).ToNot(HaveOccurred())
			req.Header.Set("Content-Type", tt.contentType)
			if tt.host != "" {
				req.Host = tt.host
			}
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}

			resp, err := srv.Client().Do(req)
			g.Expect(err).ToNot(HaveOccurred())
			defer resp.Body.Close()
			g.Expect(resp.StatusCode).To(Equal(tt.status))

			if tt.status == http.StatusOK {
				var r SignLicenseResponse
				g.Expect(json.NewDecoder(resp.Body).Decode(&r)).To(Succeed())
				g.Expect(r.OK).To(BeTrue())
				g.Expect(d.calls.Load()).To(Equal(int32(1)))
			} else {
				g.Expect(d.calls.Load()).To(BeZero())
			}
		})
	}
}

func TestIsLoopbackHost(t *testing.T) {
	tests := map[string]bool{
		"127.0.0.1:7311":    true,
		"localhost:7311":    true,
		"LOCALHOST":         true,
		"[::1]:7311":        true,
		"[::1]":             true,
		"evil.example:7311": false,
		"192.168.1.10":      false,
		"":                  false,
	}
	for host, want := range tests {
		t.Run(host, func(t *testing.T) {
			g := NewWithT(t)
			g.Expect(isLoopbackHost(host)).To(Equal(want))
		})
	}
}

func TestNewToken(t *testing.T) {
	g := NewWithT(t)
	a, err := NewToken()
	g.Expect(err).ToNot(HaveOccurred())
	b, err := NewToken()
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(a).To(HaveLen(64))
	g.Expect(a).ToNot(Equal(b))
}

func TestCheckLoopback(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{addr: "127.0.0.1:7311"},
		{addr: "localhost:7311"},
		{addr: "[::1]:7311"},
		{addr: "0.0.0.0:7311", wantErr: true},
		{addr: ":7311", wantErr: true},
		{addr: "192.168.1.10:7311", wantErr: true},
		{addr: "no-port", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			g := NewWithT(t)
			err := CheckLoopback(tt.addr)
			if tt.wantErr {
				g.Expect(err).To(MatchError(mlicense.ErrUsage))
			} else {
				g.Expect(err).ToNot(HaveOccurred())
			}
		})
	}
}
