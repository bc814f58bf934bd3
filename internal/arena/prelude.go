package arena

// preludeJS sets up the handle table and the helpers shared by every
// installer: octet arrays, base64, UTF-8 and host error unwrapping. It runs
// before any module, so it cannot rely on atob or TextEncoder.
const preludeJS = `
(function() {
	globalThis.__h = { s: Object.create(null) };

	var B64 = 'ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/';
	var B64R = {};
	for (var i = 0; i < B64.length; i++) B64R[B64.charAt(i)] = i;
	B64R['-'] = 62; B64R['_'] = 63;

	function annotate(a) {
		a.byteLength = a.length;
		return a;
	}
	globalThis.__annotateBytes = annotate;

	globalThis.__b64ToArray = function(s) {
		s = String(s).replace(/[\s=]/g, '');
		var out = [];
		var acc = 0, bits = 0;
		for (var i = 0; i < s.length; i++) {
			var v = B64R[s.charAt(i)];
			if (v === undefined) throw new TypeError('invalid base64');
			acc = (acc << 6) | v;
			bits += 6;
			if (bits >= 8) {
				bits -= 8;
				out.push((acc >> bits) & 0xff);
			}
		}
		return annotate(out);
	};

	globalThis.__arrayToB64 = function(bytes) {
		var out = '';
		var n = bytes.length;
		for (var i = 0; i < n; i += 3) {
			var a = bytes[i] & 0xff;
			var b = i + 1 < n ? bytes[i + 1] & 0xff : 0;
			var c = i + 2 < n ? bytes[i + 2] & 0xff : 0;
			out += B64.charAt(a >> 2) + B64.charAt(((a & 3) << 4) | (b >> 4));
			out += i + 1 < n ? B64.charAt(((b & 15) << 2) | (c >> 6)) : '=';
			out += i + 2 < n ? B64.charAt(c & 63) : '=';
		}
		return out;
	};

	globalThis.__bufToArray = function(buf) {
		var u = new Uint8Array(buf);
		var out = new Array(u.length);
		for (var i = 0; i < u.length; i++) out[i] = u[i];
		return annotate(out);
	};

	// __toBytes returns an annotated octet array for any byte source, or
	// null when src is not one.
	globalThis.__toBytes = function(src) {
		if (src === null || src === undefined) return null;
		if (typeof ArrayBuffer !== 'undefined' && src instanceof ArrayBuffer) {
			return globalThis.__bufToArray(src);
		}
		if (typeof ArrayBuffer !== 'undefined' && ArrayBuffer.isView && ArrayBuffer.isView(src)) {
			return globalThis.__bufToArray(src.buffer.slice(src.byteOffset, src.byteOffset + src.byteLength));
		}
		if (Array.isArray(src) && typeof src.byteLength === 'number') {
			var copy = new Array(src.length);
			for (var i = 0; i < src.length; i++) copy[i] = src[i] & 0xff;
			return annotate(copy);
		}
		return null;
	};

	globalThis.__utf8Encode = function(str) {
		str = String(str);
		var out = [];
		for (var i = 0; i < str.length; i++) {
			var c = str.charCodeAt(i);
			if (c >= 0xd800 && c <= 0xdbff && i + 1 < str.length) {
				var d = str.charCodeAt(i + 1);
				if (d >= 0xdc00 && d <= 0xdfff) {
					c = 0x10000 + ((c - 0xd800) << 10) + (d - 0xdc00);
					i++;
				} else {
					c = 0xfffd;
				}
			} else if (c >= 0xd800 && c <= 0xdfff) {
				c = 0xfffd;
			}
			if (c < 0x80) {
				out.push(c);
			} else if (c < 0x800) {
				out.push(0xc0 | (c >> 6), 0x80 | (c & 63));
			} else if (c < 0x10000) {
				out.push(0xe0 | (c >> 12), 0x80 | ((c >> 6) & 63), 0x80 | (c & 63));
			} else {
				out.push(0xf0 | (c >> 18), 0x80 | ((c >> 12) & 63), 0x80 | ((c >> 6) & 63), 0x80 | (c & 63));
			}
		}
		return annotate(out);
	};

	globalThis.__utf8Decode = function(bytes, fatal) {
		var out = '';
		var n = bytes.length;
		var i = 0;
		function bad() {
			if (fatal) throw new TypeError('The encoded data was not valid utf-8');
			out += '\ufffd';
		}
		while (i < n) {
			var b = bytes[i] & 0xff;
			var need = 0, cp = 0, lo = 0x80, hi = 0xbf;
			if (b < 0x80) { out += String.fromCharCode(b); i++; continue; }
			else if (b >= 0xc2 && b <= 0xdf) { need = 1; cp = b & 0x1f; }
			else if (b >= 0xe0 && b <= 0xef) {
				need = 2; cp = b & 0x0f;
				if (b === 0xe0) lo = 0xa0;
				if (b === 0xed) hi = 0x9f;
			}
			else if (b >= 0xf0 && b <= 0xf4) {
				need = 3; cp = b & 0x07;
				if (b === 0xf0) lo = 0x90;
				if (b === 0xf4) hi = 0x8f;
			}
			else { bad(); i++; continue; }
			// A broken sequence consumes the lead byte and the continuation
			// bytes that were valid so far, then decoding resumes.
			var k = 1;
			for (; k <= need; k++) {
				if (i + k >= n) break;
				var cb = bytes[i + k] & 0xff;
				if (cb < lo || cb > hi) break;
				lo = 0x80; hi = 0xbf;
				cp = (cp << 6) | (cb & 0x3f);
			}
			if (k <= need) { bad(); i += k; continue; }
			i += need + 1;
			if (cp >= 0x10000) {
				cp -= 0x10000;
				out += String.fromCharCode(0xd800 + (cp >> 10), 0xdc00 + (cp & 0x3ff));
			} else {
				out += String.fromCharCode(cp);
			}
		}
		return out;
	};

	// Host functions throw "calling __name: msg"; scripts only see msg.
	globalThis.__hostErr = function(e) {
		var m = (e && typeof e === 'object' && 'message' in e) ? String(e.message) : String(e);
		return m.replace(/^calling __[A-Za-z0-9_]+: /, '');
	};

	globalThis.__defineHidden = function(obj, name, value) {
		Object.defineProperty(obj, name, { value: value, enumerable: false, configurable: true, writable: true });
	};
})();
`
