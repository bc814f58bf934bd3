package scriptcage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/go-resty/resty/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cryguy/scriptcage/internal/core"
)

// acceptEncoding is sent when the script did not choose one.
const acceptEncoding = "gzip, deflate, br, zstd"

// HTTPHookConfig configures an HTTPHook.
type HTTPHookConfig struct {
	Timeout       time.Duration // per request, 0 for none
	MaxBodyBytes  int64         // decoded body cap, 0 for none
	RatePerSecond float64       // outbound requests per second, 0 for unlimited
	Burst         int
	AllowPrivate  bool // skip the SSRF checks
	UserAgent     string
	MaxRedirects  int
	Logger        *zap.Logger
}

// HTTPHook is the default NetworkHook. It performs real HTTP requests with
// resty, refuses private addresses unless AllowPrivate is set, honours the
// fetch redirect modes and decodes compressed bodies.
type HTTPHook struct {
	client  *resty.Client
	limiter *rate.Limiter
	cfg     HTTPHookConfig
	log     *zap.Logger
}

var _ NetworkHook = (*HTTPHook)(nil)

type redirectModeKey struct{}

// NewHTTPHook builds an HTTPHook.
func NewHTTPHook(cfg HTTPHookConfig) *HTTPHook {
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 20
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if cfg.AllowPrivate {
		transport.DialContext = (&net.Dialer{Timeout: 30 * time.Second}).DialContext
	} else {
		transport.Proxy = nil
		transport.DialContext = ssrfSafeDialContext
	}

	h := &HTTPHook{cfg: cfg, log: log}
	h.client = resty.New().
		SetTransport(transport).
		SetTimeout(cfg.Timeout).
		SetLogger(log.Sugar()).
		SetRedirectPolicy(resty.RedirectPolicyFunc(h.checkRedirect))
	if cfg.UserAgent != "" {
		h.client.SetHeader("User-Agent", cfg.UserAgent)
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	h.limiter = rate.NewLimiter(limit, burst)
	return h
}

func (h *HTTPHook) checkRedirect(req *http.Request, via []*http.Request) error {
	mode, _ := req.Context().Value(redirectModeKey{}).(string)
	switch mode {
	case "manual":
		return http.ErrUseLastResponse
	case "error":
		return errRedirectMode
	}
	if len(via) >= h.cfg.MaxRedirects {
		return fmt.Errorf("too many redirects")
	}
	if !h.cfg.AllowPrivate && IsPrivateHostname(req.URL.String()) {
		return fmt.Errorf("redirect to private IP address is not allowed")
	}
	return nil
}

var errRedirectMode = errors.New("fetch failed: redirect mode is 'error'")

// Fetch performs the request described by input and init.
func (h *HTTPHook) Fetch(ctx context.Context, input FetchInput, init FetchInit) (*Reply, error) {
	if input.URL == "" {
		return nil, fmt.Errorf("fetch requires a URL")
	}
	if !h.cfg.AllowPrivate && IsPrivateHostname(input.URL) {
		return nil, errPrivateAddress
	}
	if err := h.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	method := init.Method
	if method == "" {
		method = http.MethodGet
	}
	req := h.client.R().
		SetContext(context.WithValue(ctx, redirectModeKey{}, init.Redirect)).
		SetDoNotParseResponse(true)
	hasEncoding := false
	for k, v := range init.Headers {
		lk := strings.ToLower(k)
		if ForbiddenFetchHeaders[lk] {
			continue
		}
		if lk == "accept-encoding" {
			hasEncoding = true
		}
		req.SetHeader(k, v)
	}
	if !hasEncoding {
		req.SetHeader("Accept-Encoding", acceptEncoding)
	}
	if len(init.Body) > 0 {
		req.SetBody(init.Body)
	}

	resp, err := req.Execute(method, input.URL)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, errRedirectMode):
			return nil, errRedirectMode
		case errors.Is(err, errPrivateAddress):
			return nil, errPrivateAddress
		}
		return nil, fmt.Errorf("fetch: %w", err)
	}
	raw := resp.RawBody()
	defer raw.Close()

	body, err := decodeBody(raw, resp.Header().Get("Content-Encoding"), h.cfg.MaxBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("fetch: reading body: %w", err)
	}

	status := resp.StatusCode()
	reply := &Reply{
		Status:     status,
		StatusText: strings.TrimPrefix(resp.Status(), strconv.Itoa(status)+" "),
		OK:         status >= 200 && status < 300,
		BodyBytes:  body,
		URL:        input.URL,
	}
	if rr := resp.RawResponse; rr != nil && rr.Request != nil && rr.Request.URL != nil {
		reply.URL = rr.Request.URL.String()
		reply.Redirected = reply.URL != input.URL
	}
	decoded := resp.Header().Get("Content-Encoding") != ""
	for name, values := range resp.Header() {
		lower := strings.ToLower(name)
		if decoded && (lower == "content-encoding" || lower == "content-length") {
			continue
		}
		for _, v := range values {
			reply.Headers = append(reply.Headers, core.HeaderPair{Name: lower, Value: v})
		}
	}
	h.log.Debug("fetch complete",
		zap.String("method", method),
		zap.String("url", reply.URL),
		zap.Int("status", status),
		zap.Int("bytes", len(body)))
	return reply, nil
}

// decodeBody undoes Content-Encoding and reads at most limit decoded bytes
// (all of them when limit is 0). Unknown encodings are passed through.
func decodeBody(r io.Reader, encoding string, limit int64) ([]byte, error) {
	var src io.Reader = r
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		src = gz
	case "deflate":
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		defer zr.Close()
		src = zr
	case "br":
		src = brotli.NewReader(r)
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer zr.Close()
		src = zr
	}
	if limit > 0 {
		src = io.LimitReader(src, limit)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, src); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
