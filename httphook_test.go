package scriptcage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

func newLocalHook(t *testing.T, cfg HTTPHookConfig) *HTTPHook {
	t.Helper()
	cfg.AllowPrivate = true
	return NewHTTPHook(cfg)
}

func replyHeader(r *Reply, name string) (string, bool) {
	for _, h := range r.Headers {
		if h.Name == name {
			return h.Value, true
		}
	}
	return "", false
}

func TestHTTPHook_RequestAndReply(t *testing.T) {
	var seen *http.Request
	var seenBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Clone(context.Background())
		seenBody, _ = io.ReadAll(r.Body)
		w.Header().Set("X-Reply", "yes")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, "created")
	}))
	defer srv.Close()

	hook := newLocalHook(t, HTTPHookConfig{UserAgent: "test-agent"})
	reply, err := hook.Fetch(context.Background(), FetchInput{URL: srv.URL + "/items"}, FetchInit{
		Method:  "POST",
		Headers: map[string]string{"x-token": "abc", "x-forwarded-for": "1.2.3.4"},
		Body:    []byte("payload"),
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if seen.Method != "POST" || seen.URL.Path != "/items" || string(seenBody) != "payload" {
		t.Errorf("server saw %s %s %q", seen.Method, seen.URL.Path, seenBody)
	}
	if seen.Header.Get("X-Token") != "abc" || seen.Header.Get("User-Agent") != "test-agent" {
		t.Errorf("headers = %v", seen.Header)
	}
	if seen.Header.Get("X-Forwarded-For") != "" {
		t.Error("forbidden header was forwarded")
	}
	if seen.Header.Get("Accept-Encoding") != acceptEncoding {
		t.Errorf("accept-encoding = %q", seen.Header.Get("Accept-Encoding"))
	}

	if reply.Status != 201 || reply.StatusText != "Created" || !reply.OK {
		t.Errorf("status = %d %q ok=%v", reply.Status, reply.StatusText, reply.OK)
	}
	if string(reply.BodyBytes) != "created" || reply.Redirected || reply.URL != srv.URL+"/items" {
		t.Errorf("reply = %+v", reply)
	}
	if v, ok := replyHeader(reply, "x-reply"); !ok || v != "yes" {
		t.Errorf("x-reply = %q", v)
	}
}

func TestHTTPHook_DecodesContentEncodings(t *testing.T) {
	const text = "hello, compressed world"
	encoders := map[string]func([]byte) []byte{
		"gzip": func(b []byte) []byte {
			var buf bytes.Buffer
			w := gzip.NewWriter(&buf)
			w.Write(b)
			w.Close()
			return buf.Bytes()
		},
		"deflate": func(b []byte) []byte {
			var buf bytes.Buffer
			w := zlib.NewWriter(&buf)
			w.Write(b)
			w.Close()
			return buf.Bytes()
		},
		"br": func(b []byte) []byte {
			var buf bytes.Buffer
			w := brotli.NewWriter(&buf)
			w.Write(b)
			w.Close()
			return buf.Bytes()
		},
		"zstd": func(b []byte) []byte {
			enc, _ := zstd.NewWriter(nil)
			defer enc.Close()
			return enc.EncodeAll(b, nil)
		},
	}

	for name, encode := range encoders {
		t.Run(name, func(t *testing.T) {
			payload := encode([]byte(text))
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Encoding", name)
				w.Write(payload)
			}))
			defer srv.Close()

			reply, err := newLocalHook(t, HTTPHookConfig{}).Fetch(context.Background(), FetchInput{URL: srv.URL}, FetchInit{})
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if string(reply.BodyBytes) != text {
				t.Errorf("body = %q", reply.BodyBytes)
			}
			if _, ok := replyHeader(reply, "content-encoding"); ok {
				t.Error("content-encoding should be dropped after decoding")
			}
		})
	}
}

func TestHTTPHook_BodyCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "0123456789")
	}))
	defer srv.Close()

	reply, err := newLocalHook(t, HTTPHookConfig{MaxBodyBytes: 4}).Fetch(context.Background(), FetchInput{URL: srv.URL}, FetchInit{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(reply.BodyBytes) != "0123" {
		t.Fatalf("body = %q", reply.BodyBytes)
	}
}

func redirectServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "landed")
	})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPHook_RedirectModes(t *testing.T) {
	srv := redirectServer(t)
	hook := newLocalHook(t, HTTPHookConfig{MaxRedirects: 3})
	ctx := context.Background()

	reply, err := hook.Fetch(ctx, FetchInput{URL: srv.URL + "/start"}, FetchInit{Redirect: "follow"})
	if err != nil {
		t.Fatalf("follow: %v", err)
	}
	if string(reply.BodyBytes) != "landed" || !reply.Redirected || reply.URL != srv.URL+"/final" {
		t.Errorf("follow reply = %+v", reply)
	}

	reply, err = hook.Fetch(ctx, FetchInput{URL: srv.URL + "/start"}, FetchInit{Redirect: "manual"})
	if err != nil {
		t.Fatalf("manual: %v", err)
	}
	if reply.Status != http.StatusFound || reply.Redirected || reply.OK {
		t.Errorf("manual reply = %+v", reply)
	}
	if loc, _ := replyHeader(reply, "location"); loc != "/final" {
		t.Errorf("location = %q", loc)
	}

	_, err = hook.Fetch(ctx, FetchInput{URL: srv.URL + "/start"}, FetchInit{Redirect: "error"})
	if !errors.Is(err, errRedirectMode) {
		t.Errorf("error mode: %v", err)
	}

	_, err = hook.Fetch(ctx, FetchInput{URL: srv.URL + "/loop"}, FetchInit{})
	if err == nil || !strings.Contains(err.Error(), "too many redirects") {
		t.Errorf("loop: %v", err)
	}
}

func TestHTTPHook_BlocksPrivateAddresses(t *testing.T) {
	hook := NewHTTPHook(HTTPHookConfig{})
	for _, u := range []string{
		"http://127.0.0.1:8080/",
		"http://localhost/",
		"http://api.localhost/",
		"http://10.1.2.3/",
		"http://[::1]/",
		"not a url",
	} {
		if _, err := hook.Fetch(context.Background(), FetchInput{URL: u}, FetchInit{}); !errors.Is(err, errPrivateAddress) {
			t.Errorf("%s: err = %v", u, err)
		}
	}
	if _, err := hook.Fetch(context.Background(), FetchInput{}, FetchInit{}); err == nil {
		t.Error("empty URL should fail")
	}
}

func TestHTTPHook_RateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	hook := newLocalHook(t, HTTPHookConfig{RatePerSecond: 0.1, Burst: 1})
	if _, err := hook.Fetch(context.Background(), FetchInput{URL: srv.URL}, FetchInit{}); err != nil {
		t.Fatalf("first fetch: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := hook.Fetch(ctx, FetchInput{URL: srv.URL}, FetchInit{}); err == nil {
		t.Fatal("second fetch should be rate limited")
	}
	if time.Since(start) > time.Second {
		t.Error("limiter waited past the context deadline")
	}
}

func TestHTTPHook_CancelledContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := newLocalHook(t, HTTPHookConfig{}).Fetch(ctx, FetchInput{URL: srv.URL}, FetchInit{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestIsPrivateIP(t *testing.T) {
	for ip, want := range map[string]bool{
		"127.0.0.1":     true,
		"10.0.0.1":      true,
		"172.16.5.4":    true,
		"192.168.1.1":   true,
		"169.254.1.1":   true,
		"100.64.0.1":    true,
		"::1":           true,
		"fd00::1":       true,
		"fe80::1":       true,
		"8.8.8.8":       false,
		"1.1.1.1":       false,
		"2606:4700::11": false,
	} {
		if got := IsPrivateIP(net.ParseIP(ip)); got != want {
			t.Errorf("IsPrivateIP(%s) = %v, want %v", ip, got, want)
		}
	}
}

func TestIsPrivateHostname(t *testing.T) {
	for u, want := range map[string]bool{
		"https://example.com/":   false,
		"https://8.8.8.8/":       false,
		"http://LOCALHOST:3000/": true,
		"http://192.168.0.10/":   true,
		"file:///etc/passwd":     true,
		"://broken":              true,
	} {
		if got := IsPrivateHostname(u); got != want {
			t.Errorf("IsPrivateHostname(%q) = %v, want %v", u, got, want)
		}
	}
}

func TestSSRFSafeDialRefusesPrivateTargets(t *testing.T) {
	_, err := ssrfSafeDialContext(context.Background(), "tcp", "127.0.0.1:80")
	if !errors.Is(err, errPrivateAddress) {
		t.Fatalf("err = %v", err)
	}
}

func TestDecodeBody_PassesUnknownEncodingThrough(t *testing.T) {
	body, err := decodeBody(strings.NewReader("raw"), "compress", 0)
	if err != nil || string(body) != "raw" {
		t.Fatalf("body = %q, err = %v", body, err)
	}
	if _, err := decodeBody(strings.NewReader("not gzip"), "gzip", 0); err == nil {
		t.Fatal("expected corrupt gzip to fail")
	}
}
