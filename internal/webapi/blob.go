package webapi

import "fmt"

// blobJS defines Blob over an annotated octet array.
const blobJS = `
(function() {
function partBytes(part) {
	if (part instanceof Blob) return part._bytes;
	var b = __toBytes(part);
	if (b) return b;
	return __utf8Encode(String(part));
}

function Blob(parts, options) {
	if (!(this instanceof Blob)) throw new TypeError("Constructor Blob requires 'new'");
	var bytes = [];
	if (parts !== undefined && parts !== null) {
		if (typeof parts !== 'object' || typeof parts.length !== 'number') {
			throw new TypeError("Failed to construct 'Blob': The provided value cannot be converted to a sequence.");
		}
		for (var i = 0; i < parts.length; i++) {
			var pb = partBytes(parts[i]);
			for (var j = 0; j < pb.length; j++) bytes.push(pb[j]);
		}
	}
	var t = options && options.type !== undefined ? String(options.type).toLowerCase() : '';
	this.type = /^[\x20-\x7e]*$/.test(t) ? t : '';
	__defineHidden(this, '_bytes', __annotateBytes(bytes));
}
Object.defineProperty(Blob.prototype, 'size', {
	get: function() { return this._bytes.length; }
});
Blob.prototype.text = function() {
	var bytes = this._bytes;
	return Promise.resolve().then(function() { return __utf8Decode(bytes, false); });
};
Blob.prototype.bytes = function() {
	var bytes = this._bytes;
	return Promise.resolve().then(function() { return new Uint8Array(bytes); });
};
Blob.prototype.arrayBuffer = function() {
	return this.bytes().then(function(u) { return u.buffer; });
};
Blob.prototype.slice = function(start, end, contentType) {
	var size = this._bytes.length;
	function clamp(v, dflt) {
		if (v === undefined) return dflt;
		v = Math.trunc(Number(v)) || 0;
		return v < 0 ? Math.max(size + v, 0) : Math.min(v, size);
	}
	var s = clamp(start, 0), e = clamp(end, size);
	var out = new Blob([], { type: contentType === undefined ? this.type : contentType });
	out._bytes = __annotateBytes(e > s ? this._bytes.slice(s, e) : []);
	return out;
};
Blob.prototype[Symbol.toStringTag] = 'Blob';

globalThis.Blob = Blob;
})();
`

// SetupBlob installs the Blob polyfill.
func SetupBlob(mc *ModuleCtx) error {
	if err := mc.RT.Eval(blobJS); err != nil {
		return fmt.Errorf("evaluating blob.js: %w", err)
	}
	return nil
}
