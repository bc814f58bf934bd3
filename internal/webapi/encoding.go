package webapi

import (
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// encodingJS implements atob, btoa, TextEncoder and TextDecoder. UTF-8 is
// handled in the guest; every other label is decoded by Go.
const encodingJS = `
(function() {
	var B64 = /^[A-Za-z0-9+\/]*$/;

	globalThis.btoa = function(data) {
		if (arguments.length < 1) throw new TypeError('btoa requires at least 1 argument(s)');
		var s = String(data);
		var bytes = new Array(s.length);
		for (var i = 0; i < s.length; i++) {
			var c = s.charCodeAt(i);
			if (c > 255) throw new DOMException('btoa: string contains characters outside of the Latin1 range', 'InvalidCharacterError');
			bytes[i] = c;
		}
		return __arrayToB64(bytes);
	};

	globalThis.atob = function(data) {
		if (arguments.length < 1) throw new TypeError('atob requires at least 1 argument(s)');
		var s = String(data).replace(/[\t\n\f\r ]/g, '');
		if (s.length % 4 === 0) s = s.replace(/==?$/, '');
		if (s.length % 4 === 1 || !B64.test(s)) {
			throw new DOMException('atob: invalid base64 string', 'InvalidCharacterError');
		}
		var bytes = __b64ToArray(s);
		var out = '';
		for (var i = 0; i < bytes.length; i += 4096) {
			out += String.fromCharCode.apply(null, bytes.slice(i, i + 4096));
		}
		return out;
	};

	function TextEncoder() {
		if (!(this instanceof TextEncoder)) throw new TypeError("Constructor TextEncoder requires 'new'");
	}
	Object.defineProperty(TextEncoder.prototype, 'encoding', { get: function() { return 'utf-8'; } });
	TextEncoder.prototype.encode = function(input) {
		return new Uint8Array(__utf8Encode(input === undefined ? '' : String(input)));
	};
	TextEncoder.prototype.encodeInto = function(input, dest) {
		var s = String(input);
		var read = 0, written = 0;
		for (var i = 0; i < s.length; i++) {
			var c = s.charCodeAt(i);
			var pair = c >= 0xd800 && c <= 0xdbff && i + 1 < s.length;
			var chunk = __utf8Encode(pair ? s.slice(i, i + 2) : s.charAt(i));
			if (written + chunk.length > dest.length) break;
			for (var j = 0; j < chunk.length; j++) dest[written++] = chunk[j];
			read += pair ? 2 : 1;
			if (pair) i++;
		}
		return { read: read, written: written };
	};

	function TextDecoder(label, options) {
		if (!(this instanceof TextDecoder)) throw new TypeError("Constructor TextDecoder requires 'new'");
		var name = __encodingName(label === undefined ? 'utf-8' : String(label));
		if (!name) throw new RangeError("The encoding label provided ('" + label + "') is invalid.");
		this._encoding = name;
		this._fatal = !!(options && options.fatal);
		this._ignoreBOM = !!(options && options.ignoreBOM);
	}
	Object.defineProperty(TextDecoder.prototype, 'encoding', { get: function() { return this._encoding; } });
	Object.defineProperty(TextDecoder.prototype, 'fatal', { get: function() { return this._fatal; } });
	Object.defineProperty(TextDecoder.prototype, 'ignoreBOM', { get: function() { return this._ignoreBOM; } });
	TextDecoder.prototype.decode = function(input) {
		if (input === undefined || input === null) return '';
		var bytes = __toBytes(input);
		if (!bytes) throw new TypeError('The provided value is not of type (ArrayBuffer or ArrayBufferView)');
		if (this._encoding === 'utf-8') {
			if (!this._ignoreBOM && bytes[0] === 0xef && bytes[1] === 0xbb && bytes[2] === 0xbf) bytes = bytes.slice(3);
			return __utf8Decode(bytes, this._fatal);
		}
		try {
			return __decodeText(this._encoding, __arrayToB64(bytes), this._fatal);
		} catch (e) {
			throw new TypeError(__hostErr(e));
		}
	};

	globalThis.TextEncoder = TextEncoder;
	globalThis.TextDecoder = TextDecoder;
})();
`

// encodingName resolves a WHATWG label to its canonical lowercase name, or
// "" when the label is unknown.
func encodingName(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return ""
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return ""
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		return ""
	}
	return strings.ToLower(name)
}

// decodeText decodes data from the named encoding to UTF-8. With fatal set,
// input that needs a replacement character is an error.
func decodeText(name string, data []byte, fatal bool) (string, error) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return "", fmt.Errorf("unknown encoding %q", name)
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", name, err)
	}
	s := string(out)
	if fatal && strings.ContainsRune(s, '\uFFFD') {
		return "", fmt.Errorf("the encoded data was not valid %s", name)
	}
	return s, nil
}

// SetupEncoding installs atob, btoa, TextEncoder and TextDecoder.
func SetupEncoding(mc *ModuleCtx) error {
	if err := mc.RT.RegisterFunc("__encodingName", encodingName); err != nil {
		return err
	}
	if err := mc.RT.RegisterFunc("__decodeText", func(name, dataB64 string, fatal bool) (string, error) {
		data, err := base64.StdEncoding.DecodeString(dataB64)
		if err != nil {
			return "", fmt.Errorf("decoding input: %w", err)
		}
		return decodeText(name, data, fatal)
	}); err != nil {
		return err
	}
	if err := mc.RT.Eval(encodingJS); err != nil {
		return fmt.Errorf("evaluating encoding.js: %w", err)
	}
	return nil
}
