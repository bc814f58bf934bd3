package webapi

import "fmt"

// responseJS defines the body normalizer, the decode error classes and the
// Response shim. A Response keeps its body as an annotated octet array in
// a hidden state record; bodyUsed flips synchronously on the first read.
//
// Responses built from a network reply (fetched) cut decoded text at the
// first NUL byte. Responses built by scripts decode every byte.
const responseJS = `
(function() {
function namedError(name) {
	return class extends Error {
		constructor(message) {
			super(message);
			this.name = name;
		}
	};
}
var FetchError = namedError('FetchError');
var JSONError = namedError('JSONError');
var TextError = namedError('TextError');
globalThis.__FetchError = FetchError;

function errMessage(e, fallback) {
	var m = e && typeof e === 'object' && 'message' in e ? String(e.message) : '';
	return m || fallback;
}

// __bodyInit turns any supported body into {bytes, type}. bytes is null for
// a missing body; type is the implied Content-Type, if any.
function bodyInit(body) {
	if (body === undefined || body === null) return { bytes: null, type: null };
	if (typeof body === 'string') return { bytes: __utf8Encode(body), type: 'text/plain;charset=UTF-8' };
	if (typeof Blob !== 'undefined' && body instanceof Blob) {
		return { bytes: __annotateBytes(body._bytes.slice()), type: body.type || null };
	}
	if (typeof URLSearchParams !== 'undefined' && body instanceof URLSearchParams) {
		return { bytes: __utf8Encode(body.toString()), type: 'application/x-www-form-urlencoded;charset=UTF-8' };
	}
	var b = __toBytes(body);
	if (b) return { bytes: b, type: null };
	if (body instanceof Date) return { bytes: __utf8Encode(body.toISOString()), type: 'text/plain;charset=UTF-8' };
	if (body instanceof RegExp) return { bytes: __utf8Encode(body.toString()), type: 'text/plain;charset=UTF-8' };
	if (typeof body === 'object') {
		var s;
		try {
			s = JSON.stringify(body);
		} catch (e) {
			s = undefined;
		}
		if (typeof s !== 'string') s = String(body);
		return { bytes: __utf8Encode(s), type: 'application/json' };
	}
	return { bytes: __utf8Encode(String(body)), type: 'text/plain;charset=UTF-8' };
}
globalThis.__bodyInit = bodyInit;

// headerView is the headers object of a Response: one lowercased own
// property per header plus hidden lookup methods.
function headerView(map) {
	var view = {};
	var names = Object.keys(map).sort();
	for (var i = 0; i < names.length; i++) view[names[i]] = map[names[i]];
	function entries() {
		return Object.keys(view).map(function(k) { return [k, view[k]]; });
	}
	__defineHidden(view, '__isHoppHeaders', true);
	__defineHidden(view, 'get', function(name) {
		var k = String(name);
		if (!Object.prototype.hasOwnProperty.call(view, k)) k = k.toLowerCase();
		return Object.prototype.hasOwnProperty.call(view, k) ? view[k] : null;
	});
	__defineHidden(view, 'has', function(name) {
		return view.get(name) !== null;
	});
	__defineHidden(view, 'entries', function() { return entries()[Symbol.iterator](); });
	__defineHidden(view, 'keys', function() { return Object.keys(view)[Symbol.iterator](); });
	__defineHidden(view, 'values', function() {
		return Object.keys(view).map(function(k) { return view[k]; })[Symbol.iterator]();
	});
	__defineHidden(view, 'forEach', function(cb, thisArg) {
		entries().forEach(function(e) { cb.call(thisArg, e[1], e[0], view); });
	});
	__defineHidden(view, 'toObject', function() {
		var out = {};
		Object.keys(view).forEach(function(k) { out[k] = view[k]; });
		return out;
	});
	__defineHidden(view, Symbol.iterator, function() { return entries()[Symbol.iterator](); });
	return view;
}

function lowerMap(pairs) {
	var map = {};
	for (var i = 0; i < pairs.length; i++) map[String(pairs[i][0]).toLowerCase()] = String(pairs[i][1]);
	return map;
}

function trimNul(bytes) {
	for (var i = 0; i < bytes.length; i++) {
		if (bytes[i] === 0) return bytes.slice(0, i);
	}
	return bytes;
}

function decodeForm(text) {
	var out = {};
	if (!text) return out;
	text.split('&').forEach(function(part) {
		if (!part) return;
		var i = part.indexOf('=');
		var k = i < 0 ? part : part.slice(0, i);
		var v = i < 0 ? '' : part.slice(i + 1);
		out[decodeURIComponent(k.replace(/\+/g, ' '))] = decodeURIComponent(v.replace(/\+/g, ' '));
	});
	return out;
}

var KEY = {};

class Response {
	constructor(body, init) {
		if (body === KEY) {
			__defineHidden(this, '_s', init);
			return;
		}
		init = init || {};
		var status = init.status === undefined ? 200 : Number(init.status);
		if (!(status >= 200 && status <= 599) || Math.floor(status) !== status) {
			throw new RangeError("Failed to construct 'Response': The status provided (" + init.status + ") is outside the range [200, 599].");
		}
		var normalized = bodyInit(body);
		var map = lowerMap(__headerPairs(init.headers).pairs);
		if (normalized.type && map['content-type'] === undefined) map['content-type'] = normalized.type;
		__defineHidden(this, '_s', {
			status: status,
			statusText: init.statusText === undefined ? '' : String(init.statusText),
			headers: map,
			bytes: normalized.bytes,
			bodyUsed: false,
			type: 'default',
			url: '',
			redirected: false,
			fetched: false
		});
	}

	get status() { return this._s.status; }
	get statusText() { return this._s.statusText; }
	get ok() {
		if (typeof this._s.ok === 'boolean') return this._s.ok;
		return this._s.status >= 200 && this._s.status < 300;
	}
	get headers() {
		if (!this._headers) __defineHidden(this, '_headers', headerView(this._s.headers));
		return this._headers;
	}
	get type() { return this._s.type; }
	get url() { return this._s.url; }
	get redirected() { return this._s.redirected; }
	get bodyUsed() { return this._s.bodyUsed; }
	get body() { return this._s.bytes === null ? null : this._s.bytes; }

	_take() {
		var s = this._s;
		if (s.bodyUsed) return null;
		s.bodyUsed = true;
		var b = s.bytes || [];
		return s.fetched ? trimNul(b) : b;
	}
	_consumed() {
		return Promise.reject(new TypeError('Body has already been consumed'));
	}

	text() {
		var b = this._take();
		if (b === null) return this._consumed();
		try {
			return Promise.resolve(__utf8Decode(b, false));
		} catch (e) {
			return Promise.reject(new TextError(errMessage(e, 'Text decode failed')));
		}
	}
	json() {
		var b = this._take();
		if (b === null) return this._consumed();
		try {
			return Promise.resolve(JSON.parse(__utf8Decode(b, false)));
		} catch (e) {
			return Promise.reject(new JSONError(errMessage(e, 'JSON parse failed')));
		}
	}
	arrayBuffer() {
		if (this._s.bodyUsed) return this._consumed();
		this._s.bodyUsed = true;
		try {
			return Promise.resolve(__annotateBytes((this._s.bytes || []).slice()));
		} catch (e) {
			return Promise.reject(new Error(errMessage(e, 'ArrayBuffer conversion failed')));
		}
	}
	bytes() {
		return this.arrayBuffer().then(function(b) { return new Uint8Array(b); });
	}
	blob() {
		if (this._s.bodyUsed) return this._consumed();
		this._s.bodyUsed = true;
		try {
			var b = __annotateBytes((this._s.bytes || []).slice());
			return Promise.resolve({ size: b.length, type: 'application/octet-stream', bytes: b });
		} catch (e) {
			return Promise.reject(new Error(errMessage(e, 'Blob conversion failed')));
		}
	}
	formData() {
		var b = this._take();
		if (b === null) return this._consumed();
		try {
			return Promise.resolve(decodeForm(__utf8Decode(b, false)));
		} catch (e) {
			return Promise.reject(new TypeError(errMessage(e, 'FormData parsing failed')));
		}
	}
	clone() {
		var s = this._s;
		if (s.bodyUsed) return { _error: true };
		var copy = {};
		for (var k in s) copy[k] = s[k];
		copy.headers = {};
		for (var h in s.headers) copy.headers[h] = s.headers[h];
		copy.bytes = s.bytes === null ? null : __annotateBytes(s.bytes.slice());
		copy.bodyUsed = false;
		return new Response(KEY, copy);
	}

	static json(data, init) {
		var s = JSON.stringify(data);
		if (s === undefined) throw new TypeError('Value is not JSON serializable');
		init = init || {};
		var map = lowerMap(__headerPairs(init.headers).pairs);
		if (map['content-type'] === undefined) map['content-type'] = 'application/json';
		var r = new Response(s, { status: init.status, statusText: init.statusText });
		r._s.headers = map;
		return r;
	}
	static error() {
		return new Response(KEY, {
			status: 0, statusText: '', headers: {}, bytes: null, bodyUsed: false,
			type: 'error', url: '', redirected: false, fetched: false
		});
	}
}
Response.prototype[Symbol.toStringTag] = 'Response';

// __responseFromReply builds the Response for a marshalled network reply.
globalThis.__responseFromReply = function(reply, url) {
	return new Response(KEY, {
		status: reply.status,
		statusText: reply.statusText,
		headers: reply.headers || {},
		bytes: reply.bodyBytes === null || reply.bodyBytes === undefined ? __annotateBytes([]) : __annotateBytes(reply.bodyBytes.slice()),
		bodyUsed: false,
		type: 'basic',
		url: url || '',
		redirected: !!reply.redirected,
		fetched: true,
		ok: !!reply.ok
	});
};

globalThis.Response = Response;
})();
`

// SetupResponse installs Response together with the body normalizer shared
// with Request and fetch.
func SetupResponse(mc *ModuleCtx) error {
	if err := mc.RT.Eval(responseJS); err != nil {
		return fmt.Errorf("evaluating response.js: %w", err)
	}
	return nil
}
