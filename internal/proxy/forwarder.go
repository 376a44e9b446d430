package proxy

import (
	"context"           // Client cancellation
	"encoding/json"     // Error bodies
	"errors"            // Error values
	"fmt"               // Error formatting
	"mime"              // Content-Type parsing
	"net/http"          // HTTP types
	"net/http/httputil" // Reverse proxy
	"net/url"           // URL parsing
	"strings"           // String manipulation

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logrus for structured logging
)

// ErrorUpstreamUnavailable is the error code returned when an upstream cannot be reached.
const ErrorUpstreamUnavailable = "upstream_unavailable"

// Headers the gateway consumes and never forwards.
var gatewayHeaders = []string{"X-Wallet-Address", "X-PAYMENT", "Authorization", "X-Api-Key"}

// Upstream describes one proxied API.
type Upstream struct {
	Name      string
	BaseURL   string
	Prefix    string              // gateway path prefix removed before forwarding
	Authorize func(*http.Request) // attaches upstream credentials
}

// Forwarder is a reverse proxy for a single upstream.
type Forwarder struct {
	name   string
	prefix string
	target *url.URL
	auth   func(*http.Request)
	proxy  *httputil.ReverseProxy
	log    logrus.FieldLogger
}

// New builds a Forwarder for u.
func New(u Upstream, log logrus.FieldLogger) (*Forwarder, error) {
	target, err := url.Parse(u.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: %w", u.Name, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("upstream %s: base URL %q must be absolute", u.Name, u.BaseURL)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	f := &Forwarder{
		name:   u.Name,
		prefix: strings.TrimRight(u.Prefix, "/"),
		target: target,
		auth:   u.Authorize,
		log:    log.WithField("upstream", u.Name),
	}
	f.proxy = &httputil.ReverseProxy{
		Rewrite:      f.rewrite,
		ErrorHandler: f.fail,
	}
	return f, nil
}

func (f *Forwarder) rewrite(pr *httputil.ProxyRequest) {
	pr.Out.URL.Path = strings.TrimPrefix(pr.In.URL.Path, f.prefix)
	pr.Out.URL.RawPath = strings.TrimPrefix(pr.In.URL.RawPath, f.prefix)
	pr.SetURL(f.target)
	pr.SetXForwarded()
	for _, h := range gatewayHeaders {
		pr.Out.Header.Del(h)
	}
	if f.auth != nil {
		f.auth(pr.Out)
	}
}

func (f *Forwarder) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		f.log.WithField("path", r.URL.Path).Info("Client went away before upstream replied")
	} else {
		f.log.WithFields(logrus.Fields{"path": r.URL.Path, "error": err.Error()}).Error("Upstream request failed")
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusBadGateway)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": ErrorUpstreamUnavailable, "upstream": f.name})
}

// Handle proxies the gin request.
func (f *Forwarder) Handle(c *gin.Context) {
	f.proxy.ServeHTTP(&streamWriter{ResponseWriter: c.Writer}, c.Request)
}

// streamWriter only passes flushes through for event streams, so ordinary
// responses stay buffered until the payment outcome is known.
type streamWriter struct {
	http.ResponseWriter
}

func (w *streamWriter) Flush() {
	ct, _, _ := mime.ParseMediaType(w.Header().Get("Content-Type"))
	if ct != "text/event-stream" {
		return
	}
	if fl, ok := w.ResponseWriter.(http.Flusher); ok {
		fl.Flush()
	}
}

func (w *streamWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
