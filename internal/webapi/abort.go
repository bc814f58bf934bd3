package webapi

import (
	"fmt"

	"go.uber.org/zap"
)

// abortJS defines Event, DOMException, AbortSignal and AbortController.
//
// Each abort listener is kept as a {handle, disposed} record that holds its
// own reference to the callback. abort() walks the records once in
// registration order and drops each reference right after the call, so a
// signal never keeps a listener alive past its single invocation.
const abortJS = `
(function() {
var KEY = {};

class Event {
	constructor(type, options) {
		this.type = String(type);
		this.bubbles = !!(options && options.bubbles);
		this.cancelable = !!(options && options.cancelable);
		this.defaultPrevented = false;
		this.target = null;
		this.currentTarget = null;
		this.timeStamp = Date.now();
	}
	preventDefault() {
		if (this.cancelable) this.defaultPrevented = true;
	}
}

class DOMException extends Error {
	constructor(message, name) {
		super(message === undefined ? '' : String(message));
		this.name = name === undefined ? 'Error' : String(name);
		this.message = message === undefined ? '' : String(message);
	}
}

function abortError() {
	return new DOMException('The operation was aborted.', 'AbortError');
}

function fire(signal) {
	var ev = new Event('abort');
	ev.target = signal;
	ev.currentTarget = signal;
	if (typeof signal.onabort === 'function') {
		try {
			signal.onabort.call(signal, ev);
		} catch (e) {
			__abortListenerError(describe(e));
		}
	}
	var records = signal._listeners;
	for (var i = 0; i < records.length; i++) {
		var rec = records[i];
		if (rec.disposed) continue;
		var fn = rec.handle;
		try {
			fn.call(signal, ev);
		} catch (e) {
			__abortListenerError(describe(e));
		} finally {
			rec.handle = null;
			rec.disposed = true;
		}
	}
	signal._listeners = [];
}

function describe(e) {
	if (e && typeof e === 'object' && 'message' in e) {
		return (e.name ? e.name + ': ' : '') + e.message;
	}
	return String(e);
}

class AbortSignal {
	constructor(key) {
		if (key !== KEY) throw new TypeError('Illegal constructor');
		this.aborted = false;
		this.reason = undefined;
		this.onabort = null;
		__defineHidden(this, '_listeners', []);
	}
	addEventListener(type, fn) {
		if (type !== 'abort' || typeof fn !== 'function') return;
		if (this.aborted) return;
		this._listeners.push({ handle: fn, disposed: false });
	}
	removeEventListener(type, fn) {
		if (type !== 'abort') return;
		for (var i = 0; i < this._listeners.length; i++) {
			var rec = this._listeners[i];
			if (!rec.disposed && rec.handle === fn) {
				rec.handle = null;
				rec.disposed = true;
			}
		}
	}
	throwIfAborted() {
		if (this.aborted) throw this.reason;
	}
	_abort(reason) {
		if (this.aborted) return;
		this.aborted = true;
		this.reason = reason === undefined ? abortError() : reason;
		fire(this);
	}
	static abort(reason) {
		var s = new AbortSignal(KEY);
		s.aborted = true;
		s.reason = reason === undefined ? abortError() : reason;
		return s;
	}
	static timeout(ms) {
		var s = new AbortSignal(KEY);
		setTimeout(function() {
			s._abort(new DOMException('The operation timed out.', 'TimeoutError'));
		}, ms);
		return s;
	}
}
class AbortController {
	constructor() {
		this.signal = new AbortSignal(KEY);
	}
	abort(reason) {
		this.signal._abort(reason);
	}
}

globalThis.Event = Event;
globalThis.DOMException = DOMException;
globalThis.AbortSignal = AbortSignal;
globalThis.AbortController = AbortController;
})();
`

// SetupAbort installs Event, DOMException, AbortSignal and AbortController.
// Errors thrown by abort listeners never reach the script that called
// abort(); they are logged on the host instead.
func SetupAbort(mc *ModuleCtx) error {
	log := mc.Log
	if err := mc.RT.RegisterFunc("__abortListenerError", func(msg string) {
		log.Warn("[ABORT] Listener error:", zap.String("error", msg))
	}); err != nil {
		return err
	}
	if err := mc.RT.Eval(abortJS); err != nil {
		return fmt.Errorf("evaluating abort.js: %w", err)
	}
	return nil
}
