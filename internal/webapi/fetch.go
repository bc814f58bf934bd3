package webapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/cryguy/scriptcage/internal/arena"
	"github.com/cryguy/scriptcage/internal/core"
	"github.com/cryguy/scriptcage/internal/eventloop"
)

// abortedMessage is the rejection text for fetches cancelled by a signal.
const abortedMessage = "The operation was aborted."

// fetchJS defines fetch() and the two delivery entry points the host calls
// when an operation settles.
const fetchJS = `
(function() {
var pending = {};
var FetchError = globalThis.__FetchError;
var KNOWN = { method: 1, headers: 1, body: 1, redirect: 1, mode: 1, credentials: 1, cache: 1, referrer: 1, integrity: 1, signal: 1 };

function errMessage(e, fallback) {
	var m = e && typeof e === 'object' && 'message' in e ? String(e.message) : (e === undefined ? '' : String(e));
	return m || fallback;
}

function abortError() {
	return new DOMException('` + abortedMessage + `', 'AbortError');
}

function collect(input, init) {
	var args = {};
	if (input !== null && typeof input === 'object' && typeof input.__nativeRequestData === 'number') {
		args.requestId = input.__nativeRequestData;
		args.url = input.url;
	} else if (typeof URL !== 'undefined' && input instanceof URL) {
		args.url = input.href;
	} else if (input === undefined) {
		throw new TypeError('fetch requires at least 1 argument');
	} else {
		args.url = String(input);
	}
	if (init === undefined || init === null) return args;

	var out = {};
	if (init.method !== undefined) out.method = String(init.method);
	if (init.headers !== undefined && init.headers !== null) {
		var c = __headerPairs(init.headers);
		out.headersKind = c.kind;
		out.headers = c.pairs;
	}
	if (init.body !== undefined && init.body !== null) {
		if (typeof init.body === 'string') {
			out.bodyText = init.body;
		} else {
			var b = __bodyInit(init.body);
			out.bodyB64 = __arrayToB64(b.bytes);
			if (b.type) out.bodyType = b.type;
		}
	}
	['redirect', 'mode', 'credentials', 'cache', 'referrer', 'integrity'].forEach(function(k) {
		if (init[k] !== undefined) out[k] = String(init[k]);
	});
	if (init.signal) {
		out.signal = true;
		out.signalAborted = !!init.signal.aborted;
	}
	var extra = {};
	var n = 0;
	Object.keys(init).forEach(function(k) {
		if (KNOWN[k] || typeof init[k] === 'function') return;
		try {
			var s = JSON.stringify(init[k]);
			if (s !== undefined) { extra[k] = JSON.parse(s); n++; }
		} catch (e) {}
	});
	if (n) out.extra = extra;
	args.init = out;
	return args;
}

function settle(p) {
	if (p.signal && p.listener) p.signal.removeEventListener('abort', p.listener);
}

globalThis.fetch = function(input, init) {
	return new Promise(function(resolve, reject) {
		var args, id;
		try {
			args = collect(input, init);
		} catch (e) {
			reject(new FetchError(errMessage(e, 'Fetch failed')));
			return;
		}
		try {
			id = __fetchStart(JSON.stringify(args));
		} catch (e) {
			reject(new FetchError(__hostErr(e) || 'Fetch failed'));
			return;
		}
		var signal = init && init.signal;
		if (signal && signal.aborted) {
			reject(abortError());
			return;
		}
		var p = { resolve: resolve, reject: reject, url: args.url, signal: signal, listener: null };
		pending[id] = p;
		if (signal && typeof signal.addEventListener === 'function') {
			p.listener = function() {
				if (!pending[id]) return;
				delete pending[id];
				__fetchAbort(id);
				reject(abortError());
			};
			signal.addEventListener('abort', p.listener);
		}
	});
};

globalThis.__fetchResolve = function(id, reply) {
	var p = pending[id];
	if (!p) return;
	delete pending[id];
	settle(p);
	try {
		p.resolve(__responseFromReply(reply, reply.url || p.url));
	} catch (e) {
		p.reject(new FetchError(errMessage(e, 'Fetch failed')));
	}
};

globalThis.__fetchReject = function(id, message, aborted) {
	var p = pending[id];
	if (!p) return;
	delete pending[id];
	settle(p);
	p.reject(aborted ? abortError() : new FetchError(message || 'Fetch failed'));
};
})();
`

// fetchArgs is the JSON the guest sends to __fetchStart.
type fetchArgs struct {
	URL       string         `json:"url"`
	RequestID int            `json:"requestId"`
	Init      *fetchInitArgs `json:"init"`
}

type fetchInitArgs struct {
	Method        *string        `json:"method"`
	HeadersKind   string         `json:"headersKind"`
	Headers       [][2]string    `json:"headers"`
	BodyText      *string        `json:"bodyText"`
	BodyB64       *string        `json:"bodyB64"`
	BodyType      string         `json:"bodyType"`
	Redirect      string         `json:"redirect"`
	Mode          string         `json:"mode"`
	Credentials   string         `json:"credentials"`
	Cache         string         `json:"cache"`
	Referrer      string         `json:"referrer"`
	Integrity     string         `json:"integrity"`
	Signal        bool           `json:"signal"`
	SignalAborted bool           `json:"signalAborted"`
	Extra         map[string]any `json:"extra"`
}

// fetchReply is the settled host side of one fetch.
type fetchReply struct {
	reply *core.Reply
	body  []byte
}

// buildFetchCall turns the guest arguments into what the network hook
// receives. When input is a Request, its method, headers and body are the
// defaults init may override.
func buildFetchCall(state *core.RunState, args fetchArgs) (core.FetchInput, core.FetchInit, error) {
	var input core.FetchInput
	init := core.FetchInit{Method: "GET", Headers: map[string]string{}}

	if args.RequestID > 0 {
		req := state.Request(args.RequestID)
		if req == nil {
			return input, init, fmt.Errorf("request %d no longer exists", args.RequestID)
		}
		req = req.Clone()
		input.Request = req
		input.URL = req.URL
		init.Method = req.Method
		for _, e := range headerEntries(req.Headers) {
			init.Headers[e[0]] = e[1]
		}
		init.Body = req.Body
		init.Redirect = req.Redirect
		init.Mode = req.Mode
		init.Credentials = req.Credentials
		init.Cache = req.Cache
		init.Referrer = req.Referrer
		init.Integrity = req.Integrity
	} else {
		u, err := normalizeRequestURL(args.URL)
		if err != nil {
			return input, init, err
		}
		input.URL = u
	}

	in := args.Init
	if in == nil {
		return input, init, nil
	}
	if in.Method != nil {
		m, err := normalizeMethod(*in.Method)
		if err != nil {
			return input, init, err
		}
		init.Method = m
	}
	if in.HeadersKind != "" {
		init.Headers = map[string]string{}
		for _, p := range in.Headers {
			name, value, err := normalizeHeader(p[0], p[1])
			if err != nil {
				return input, init, err
			}
			if prev, ok := init.Headers[name]; ok {
				value = prev + ", " + value
			}
			init.Headers[name] = value
		}
	}
	switch {
	case in.BodyText != nil:
		init.Body = []byte(*in.BodyText)
	case in.BodyB64 != nil:
		body, err := base64.StdEncoding.DecodeString(*in.BodyB64)
		if err != nil {
			return input, init, fmt.Errorf("decoding body: %w", err)
		}
		init.Body = body
		if in.BodyType != "" {
			if _, ok := init.Headers["content-type"]; !ok {
				init.Headers["content-type"] = in.BodyType
			}
		}
	}
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&init.Redirect, in.Redirect},
		{&init.Mode, in.Mode},
		{&init.Credentials, in.Credentials},
		{&init.Cache, in.Cache},
		{&init.Referrer, in.Referrer},
		{&init.Integrity, in.Integrity},
	} {
		if f.src != "" {
			*f.dst = f.src
		}
	}
	init.Signal = core.SignalState{Present: in.Signal, Aborted: in.SignalAborted}
	init.Extra = in.Extra
	return input, init, nil
}

// readReplyBody returns the reply body capped at limit bytes, reading and
// closing Body when the hook left BodyBytes nil.
func readReplyBody(r *core.Reply, limit int64) ([]byte, error) {
	if r.BodyBytes != nil {
		if r.Body != nil {
			_ = r.Body.Close()
		}
		if int64(len(r.BodyBytes)) > limit {
			return r.BodyBytes[:limit], nil
		}
		return r.BodyBytes, nil
	}
	if r.Body == nil {
		return []byte{}, nil
	}
	defer func() { _ = r.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(r.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return body, nil
}

// replyValue is the host value marshalled into the guest for a reply:
// headers are lowercased with the last duplicate winning.
func replyValue(fr *fetchReply) map[string]any {
	headers := make(map[string]string, len(fr.reply.Headers))
	for _, h := range fr.reply.Headers {
		headers[strings.ToLower(h.Name)] = h.Value
	}
	return map[string]any{
		"status":     fr.reply.Status,
		"statusText": fr.reply.StatusText,
		"ok":         fr.reply.OK,
		"headers":    headers,
		"bodyBytes":  fr.body,
		"url":        fr.reply.URL,
		"redirected": fr.reply.Redirected,
	}
}

// fetchErrorMessage is the guest-visible text for a failed fetch and
// whether it counts as an abort.
func fetchErrorMessage(err error) (string, bool) {
	if errors.Is(err, context.Canceled) {
		return abortedMessage, true
	}
	return err.Error(), false
}

// SetupFetch installs Headers, Response, Request, AbortController and
// fetch. Every fetch is one tracked operation; the tracker drain runs as an
// after-evaluation hook and holds a keep-alive until the guest is quiet.
func SetupFetch(mc *ModuleCtx, hook core.NetworkHook) error {
	cfg := mc.Config.WithDefaults()
	tracker := eventloop.NewTracker(mc.Loop, eventloop.TrackerConfig{
		Mode:       cfg.Quiescence,
		GraceTick:  cfg.GraceTick,
		IdleRounds: cfg.IdleRounds,
	})
	keep := mc.Lifecycle.KeepAlive()
	mc.Lifecycle.AfterEval(func(ctx context.Context) error {
		defer keep.Resolve()
		return tracker.Drain(ctx, mc.RT)
	})

	for _, setup := range []func(*ModuleCtx) error{SetupHeaders, SetupResponse, SetupRequest, SetupAbort} {
		if err := setup(mc); err != nil {
			return err
		}
	}

	state := mc.State
	log := mc.Log

	deliver := func(id string) func(rt core.JSRuntime, res eventloop.OpResult) {
		return func(rt core.JSRuntime, res eventloop.OpResult) {
			state.RemoveFetchCancel(id)
			if res.Err != nil {
				msg, aborted := fetchErrorMessage(res.Err)
				js := fmt.Sprintf("__fetchReject(%s, %s, %t);", core.JsEscape(id), core.JsEscape(msg), aborted)
				if err := rt.Eval(js); err != nil {
					log.Warn("delivering fetch rejection", zap.String("fetch", id), zap.Error(err))
				}
				return
			}
			fr := res.Value.(*fetchReply)
			scope := mc.Arena.NewScope()
			defer func() { _ = scope.Close() }()
			v, err := arena.Marshal(scope, replyValue(fr))
			if err != nil {
				js := fmt.Sprintf("__fetchReject(%s, %s, false);", core.JsEscape(id), core.JsEscape(err.Error()))
				if err := rt.Eval(js); err != nil {
					log.Warn("delivering fetch rejection", zap.String("fetch", id), zap.Error(err))
				}
				return
			}
			if err := rt.Eval(fmt.Sprintf("__fetchResolve(%s, %s);", core.JsEscape(id), v.JS())); err != nil {
				log.Warn("delivering fetch reply", zap.String("fetch", id), zap.Error(err))
			}
		}
	}

	if err := mc.RT.RegisterFunc("__fetchStart", func(argsJSON string) (string, error) {
		if err := state.CountFetch(); err != nil {
			return "", err
		}
		var args fetchArgs
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("parsing fetch arguments: %w", err)
		}
		input, init, err := buildFetchCall(state, args)
		if err != nil {
			return "", err
		}
		if hook == nil {
			return "", fmt.Errorf("no network hook configured")
		}

		ctx, cancel := context.WithCancel(mc.Ctx)
		if init.Signal.Aborted {
			cancel()
		}
		id := state.RegisterFetchCancel(cancel)
		resultCh := make(chan eventloop.OpResult, 1)

		go func() {
			defer cancel()
			resultCh <- callHook(ctx, hook, input, init, cfg.MaxResponseBytes)
		}()

		mc.Loop.AddPending(tracker.Track(&eventloop.PendingOp{
			ID:       id,
			ResultCh: resultCh,
			Deliver:  deliver(id),
		}))
		log.Debug("fetch started", zap.String("fetch", id), zap.String("method", init.Method), zap.String("url", input.URL))
		return id, nil
	}); err != nil {
		return err
	}

	if err := mc.RT.RegisterFunc("__fetchAbort", func(id string) {
		state.CallFetchCancel(id)
	}); err != nil {
		return err
	}

	if err := mc.RT.Eval(fetchJS); err != nil {
		return fmt.Errorf("evaluating fetch.js: %w", err)
	}
	return nil
}

// callHook runs the network hook and reads its reply. A panicking hook is
// turned into an error.
func callHook(ctx context.Context, hook core.NetworkHook, input core.FetchInput, init core.FetchInit, limit int64) (res eventloop.OpResult) {
	defer func() {
		if r := recover(); r != nil {
			res = eventloop.OpResult{Err: fmt.Errorf("network hook panic: %v", r)}
		}
	}()
	reply, err := hook.Fetch(ctx, input, init)
	if err != nil {
		return eventloop.OpResult{Err: err}
	}
	if reply == nil {
		return eventloop.OpResult{Err: fmt.Errorf("network hook returned no reply")}
	}
	body, err := readReplyBody(reply, limit)
	if err != nil {
		return eventloop.OpResult{Err: err}
	}
	return eventloop.OpResult{Value: &fetchReply{reply: reply, body: body}}
}
