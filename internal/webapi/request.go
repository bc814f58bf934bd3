package webapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/cryguy/scriptcage/internal/core"
)

// requestJS defines the Request shim. The request itself lives on the host
// as a core.NativeRequest; the guest object only mirrors its read-only
// fields and carries the id in a hidden __nativeRequestData property.
const requestJS = `
(function() {
var FIELDS = ['url', 'method', 'headers', 'mode', 'credentials', 'cache', 'redirect', 'referrer', 'integrity'];

function call(fn, arg, prefix) {
	var out;
	try {
		out = fn(arg);
	} catch (e) {
		throw new TypeError(prefix + __hostErr(e));
	}
	return JSON.parse(out);
}

function load(req, view) {
	for (var i = 0; i < FIELDS.length; i++) {
		Object.defineProperty(req, FIELDS[i], { value: view[FIELDS[i]], enumerable: true, configurable: true });
	}
	Object.defineProperty(req, 'body', { value: null, enumerable: true, configurable: true });
	Object.defineProperty(req, 'bodyUsed', { value: false, enumerable: true, configurable: true });
	__defineHidden(req, '__nativeRequestData', view.id);
}

var KEY = {};

class Request {
	constructor(input, init) {
		if (input === KEY) {
			load(this, init);
			return;
		}
		var args = {};
		var method = 'GET';
		if (input !== null && typeof input === 'object' && typeof input.__nativeRequestData === 'number') {
			method = input.method;
			args.source = input.__nativeRequestData;
		} else if (typeof URL !== 'undefined' && input instanceof URL) {
			args.url = input.href;
		} else {
			args.url = String(input);
		}
		if (init !== undefined && init !== null) {
			if (init.method !== undefined) args.method = String(init.method);
			if (init.headers !== undefined) {
				args.hasHeaders = true;
				args.headers = __headerPairs(init.headers).pairs;
			}
			if (init.body !== undefined && init.body !== null) {
				var m = String(init.method !== undefined ? init.method : method).toUpperCase();
				if (m === 'GET' || m === 'HEAD') throw new TypeError("Failed to construct 'Request': Request with GET/HEAD method cannot have body.");
				var b = __bodyInit(init.body);
				args.body = __arrayToB64(b.bytes);
				args.hasBody = true;
				if (b.type) args.bodyType = b.type;
			}
			['mode', 'credentials', 'cache', 'redirect', 'referrer', 'integrity'].forEach(function(k) {
				if (init[k] !== undefined) args[k] = String(init[k]);
			});
		}
		load(this, call(__requestNew, JSON.stringify(args), "Failed to construct 'Request': "));
	}
	clone() {
		return new Request(KEY, call(__requestClone, this.__nativeRequestData, ''));
	}
}
Request.prototype[Symbol.toStringTag] = 'Request';

globalThis.Request = Request;
})();
`

// requestArgs is the JSON the guest sends to __requestNew.
type requestArgs struct {
	URL         *string     `json:"url"`
	Source      int         `json:"source"`
	Method      *string     `json:"method"`
	HasHeaders  bool        `json:"hasHeaders"`
	Headers     [][2]string `json:"headers"`
	HasBody     bool        `json:"hasBody"`
	Body        string      `json:"body"`
	BodyType    string      `json:"bodyType"`
	Mode        *string     `json:"mode"`
	Credentials *string     `json:"credentials"`
	Cache       *string     `json:"cache"`
	Redirect    *string     `json:"redirect"`
	Referrer    *string     `json:"referrer"`
	Integrity   *string     `json:"integrity"`
}

// requestView is what the guest mirrors from a NativeRequest.
type requestView struct {
	ID          int               `json:"id"`
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers"`
	Mode        string            `json:"mode"`
	Credentials string            `json:"credentials"`
	Cache       string            `json:"cache"`
	Redirect    string            `json:"redirect"`
	Referrer    string            `json:"referrer"`
	Integrity   string            `json:"integrity"`
}

var forbiddenMethods = map[string]bool{"CONNECT": true, "TRACE": true, "TRACK": true}

var normalizedMethods = map[string]bool{
	"DELETE": true, "GET": true, "HEAD": true, "OPTIONS": true, "POST": true, "PUT": true,
}

// normalizeMethod validates m and uppercases the methods fetch treats
// case-insensitively. Other methods keep their case.
func normalizeMethod(m string) (string, error) {
	if m == "" || !httpguts.ValidHeaderFieldName(m) {
		return "", fmt.Errorf("'%s' is not a valid HTTP method", m)
	}
	up := strings.ToUpper(m)
	if forbiddenMethods[up] {
		return "", fmt.Errorf("'%s' HTTP method is unsupported", m)
	}
	if normalizedMethods[up] {
		return up, nil
	}
	return m, nil
}

// normalizeRequestURL parses raw as an absolute URL. The serializer adds a
// "/" path to bare origins; that slash is dropped again when raw had none.
func normalizeRequestURL(raw string) (string, error) {
	parts, err := ParseURL(raw, "")
	if err != nil {
		return "", err
	}
	href := parts.Href
	if !strings.HasSuffix(strings.TrimSpace(raw), "/") && strings.HasSuffix(href, "/") {
		href = strings.TrimSuffix(href, "/")
	}
	return href, nil
}

// buildRequest applies args on top of the source request (if any) or on
// top of the fetch defaults.
func buildRequest(state *core.RunState, args requestArgs) (*core.NativeRequest, error) {
	var req *core.NativeRequest
	if args.Source > 0 {
		src := state.Request(args.Source)
		if src == nil {
			return nil, fmt.Errorf("request %d no longer exists", args.Source)
		}
		req = src.Clone()
	} else {
		if args.URL == nil {
			return nil, fmt.Errorf("request URL is required")
		}
		u, err := normalizeRequestURL(*args.URL)
		if err != nil {
			return nil, err
		}
		req = &core.NativeRequest{
			URL:         u,
			Method:      http.MethodGet,
			Headers:     http.Header{},
			Mode:        "cors",
			Credentials: "same-origin",
			Cache:       "default",
			Redirect:    "follow",
			Referrer:    "about:client",
		}
	}

	if args.Method != nil {
		m, err := normalizeMethod(*args.Method)
		if err != nil {
			return nil, err
		}
		req.Method = m
	}
	if args.HasHeaders {
		h := http.Header{}
		for _, p := range args.Headers {
			name, value, err := normalizeHeader(p[0], p[1])
			if err != nil {
				return nil, err
			}
			h[name] = append(h[name], value)
		}
		req.Headers = h
	}
	if args.HasBody {
		body, err := base64.StdEncoding.DecodeString(args.Body)
		if err != nil {
			return nil, fmt.Errorf("decoding request body: %w", err)
		}
		req.Body = body
		if args.BodyType != "" && len(req.Headers["content-type"]) == 0 {
			req.Headers["content-type"] = []string{args.BodyType}
		}
	}
	for _, f := range []struct {
		dst *string
		src *string
	}{
		{&req.Mode, args.Mode},
		{&req.Credentials, args.Credentials},
		{&req.Cache, args.Cache},
		{&req.Redirect, args.Redirect},
		{&req.Referrer, args.Referrer},
		{&req.Integrity, args.Integrity},
	} {
		if f.src != nil {
			*f.dst = *f.src
		}
	}
	switch req.Redirect {
	case "follow", "manual", "error":
	default:
		return nil, fmt.Errorf("'%s' is not a valid redirect mode", req.Redirect)
	}
	return req, nil
}

func viewOf(id int, req *core.NativeRequest) requestView {
	headers := make(map[string]string, len(req.Headers))
	for _, e := range headerEntries(req.Headers) {
		headers[e[0]] = e[1]
	}
	return requestView{
		ID:          id,
		URL:         req.URL,
		Method:      req.Method,
		Headers:     headers,
		Mode:        req.Mode,
		Credentials: req.Credentials,
		Cache:       req.Cache,
		Redirect:    req.Redirect,
		Referrer:    req.Referrer,
		Integrity:   req.Integrity,
	}
}

// SetupRequest installs the Request shim.
func SetupRequest(mc *ModuleCtx) error {
	state := mc.State
	if err := mc.RT.RegisterFunc("__requestNew", func(argsJSON string) (string, error) {
		var args requestArgs
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("invalid request arguments: %w", err)
		}
		req, err := buildRequest(state, args)
		if err != nil {
			return "", err
		}
		data, err := json.Marshal(viewOf(state.NewRequest(req), req))
		return string(data), err
	}); err != nil {
		return err
	}
	if err := mc.RT.RegisterFunc("__requestClone", func(id int) (string, error) {
		src := state.Request(id)
		if src == nil {
			return "", fmt.Errorf("request %d no longer exists", id)
		}
		c := src.Clone()
		data, err := json.Marshal(viewOf(state.NewRequest(c), c))
		return string(data), err
	}); err != nil {
		return err
	}
	if err := mc.RT.Eval(requestJS); err != nil {
		return fmt.Errorf("evaluating request.js: %w", err)
	}
	return nil
}
