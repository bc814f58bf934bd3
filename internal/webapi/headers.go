package webapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/cryguy/scriptcage/internal/core"
)

// headersJS defines Headers over a host-native http.Header and the
// __headerPairs classifier every other shim uses to read a headers init.
const headersJS = `
(function() {
// __headerPairs classifies a headers init once and flattens it to a list
// of [name, value] pairs. kind is 'pairs', 'mapping', 'shim' or 'none'.
function headerPairs(init) {
	if (init === undefined || init === null) return { kind: 'none', pairs: [] };
	if (typeof init !== 'object' && typeof init !== 'function') {
		throw new TypeError("Failed to construct 'Headers': The provided value is not of type 'HeadersInit'.");
	}
	if (init.__isHoppHeaders === true && typeof init.toObject === 'function') {
		var obj = init.toObject();
		return { kind: 'shim', pairs: Object.keys(obj).map(function(k) { return [k, obj[k]]; }) };
	}
	if (Array.isArray(init)) {
		var pairs = [];
		for (var i = 0; i < init.length; i++) {
			var p = init[i];
			if (!p || typeof p.length !== 'number' || p.length !== 2) {
				throw new TypeError("Failed to construct 'Headers': Invalid value");
			}
			pairs.push([String(p[0]), String(p[1])]);
		}
		return { kind: 'pairs', pairs: pairs };
	}
	return { kind: 'mapping', pairs: Object.keys(init).map(function(k) { return [k, String(init[k])]; }) };
}
globalThis.__headerPairs = headerPairs;

function call(fn, args) {
	try {
		return fn.apply(null, args);
	} catch (e) {
		throw new TypeError(__hostErr(e));
	}
}

class Headers {
	constructor(init) {
		__defineHidden(this, '_id', __headersNew());
		var pairs = headerPairs(init).pairs;
		for (var i = 0; i < pairs.length; i++) this.append(pairs[i][0], pairs[i][1]);
	}
	append(name, value) { call(__headersAppend, [this._id, String(name), String(value)]); }
	set(name, value) { call(__headersSet, [this._id, String(name), String(value)]); }
	delete(name) { call(__headersDelete, [this._id, String(name)]); }
	get(name) { return JSON.parse(call(__headersGet, [this._id, String(name)])); }
	has(name) { return call(__headersHas, [this._id, String(name)]) === 1; }
	getSetCookie() { return JSON.parse(__headersSetCookie(this._id)); }
	entries() { return JSON.parse(__headersEntries(this._id))[Symbol.iterator](); }
	keys() { return JSON.parse(__headersEntries(this._id)).map(function(e) { return e[0]; })[Symbol.iterator](); }
	values() { return JSON.parse(__headersEntries(this._id)).map(function(e) { return e[1]; })[Symbol.iterator](); }
	forEach(cb, thisArg) {
		var list = JSON.parse(__headersEntries(this._id));
		for (var i = 0; i < list.length; i++) cb.call(thisArg, list[i][1], list[i][0], this);
	}
	toObject() {
		var out = {};
		var list = JSON.parse(__headersEntries(this._id));
		for (var i = 0; i < list.length; i++) out[list[i][0]] = list[i][1];
		return out;
	}
	[Symbol.iterator]() { return this.entries(); }
}
Headers.prototype.__isHoppHeaders = true;
Headers.prototype[Symbol.toStringTag] = 'Headers';

globalThis.Headers = Headers;
})();
`

// normalizeHeader validates a header name and value and returns the
// lowercased name and the value with surrounding HTTP whitespace removed.
func normalizeHeader(name, value string) (string, string, error) {
	if !httpguts.ValidHeaderFieldName(name) {
		return "", "", fmt.Errorf("invalid header name: %q", name)
	}
	value = strings.Trim(value, " \t\r\n")
	if !httpguts.ValidHeaderFieldValue(value) {
		return "", "", fmt.Errorf("invalid header value for %q", name)
	}
	return strings.ToLower(name), value, nil
}

// headerEntries lists h sorted by lowercased name. Repeated values are
// combined with ", ".
func headerEntries(h http.Header) [][2]string {
	merged := make(map[string][]string, len(h))
	for k, vs := range h {
		lk := strings.ToLower(k)
		merged[lk] = append(merged[lk], vs...)
	}
	names := make([]string, 0, len(merged))
	for k := range merged {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([][2]string, 0, len(names))
	for _, k := range names {
		out = append(out, [2]string{k, strings.Join(merged[k], ", ")})
	}
	return out
}

func headerValues(h http.Header, name string) []string {
	return h[strings.ToLower(name)]
}

// SetupHeaders installs the Headers class. Header sets live in the run
// state and are addressed from the guest by id.
func SetupHeaders(mc *ModuleCtx) error {
	state := mc.State
	lookup := func(id int) (http.Header, error) {
		h := state.Headers(id)
		if h == nil {
			return nil, fmt.Errorf("headers %d no longer exist", id)
		}
		return h, nil
	}

	if err := mc.RT.RegisterFunc("__headersNew", func() int {
		return state.NewHeaders(http.Header{})
	}); err != nil {
		return err
	}
	if err := mc.RT.RegisterFunc("__headersAppend", func(id int, name, value string) (int, error) {
		h, err := lookup(id)
		if err != nil {
			return 0, err
		}
		name, value, err = normalizeHeader(name, value)
		if err != nil {
			return 0, err
		}
		h[name] = append(h[name], value)
		return 1, nil
	}); err != nil {
		return err
	}
	if err := mc.RT.RegisterFunc("__headersSet", func(id int, name, value string) (int, error) {
		h, err := lookup(id)
		if err != nil {
			return 0, err
		}
		name, value, err = normalizeHeader(name, value)
		if err != nil {
			return 0, err
		}
		h[name] = []string{value}
		return 1, nil
	}); err != nil {
		return err
	}
	if err := mc.RT.RegisterFunc("__headersDelete", func(id int, name string) (int, error) {
		h, err := lookup(id)
		if err != nil {
			return 0, err
		}
		if !httpguts.ValidHeaderFieldName(name) {
			return 0, fmt.Errorf("invalid header name: %q", name)
		}
		delete(h, strings.ToLower(name))
		return 1, nil
	}); err != nil {
		return err
	}
	if err := mc.RT.RegisterFunc("__headersGet", func(id int, name string) (string, error) {
		h, err := lookup(id)
		if err != nil {
			return "", err
		}
		vs := headerValues(h, name)
		if len(vs) == 0 {
			return "null", nil
		}
		return core.JsEscape(strings.Join(vs, ", ")), nil
	}); err != nil {
		return err
	}
	if err := mc.RT.RegisterFunc("__headersHas", func(id int, name string) (int, error) {
		h, err := lookup(id)
		if err != nil {
			return 0, err
		}
		return core.BoolToInt(len(headerValues(h, name)) > 0), nil
	}); err != nil {
		return err
	}
	if err := mc.RT.RegisterFunc("__headersSetCookie", func(id int) string {
		vs := headerValues(state.Headers(id), "set-cookie")
		if vs == nil {
			vs = []string{}
		}
		data, _ := json.Marshal(vs)
		return string(data)
	}); err != nil {
		return err
	}
	if err := mc.RT.RegisterFunc("__headersEntries", func(id int) string {
		data, _ := json.Marshal(headerEntries(state.Headers(id)))
		return string(data)
	}); err != nil {
		return err
	}

	if err := mc.RT.Eval(headersJS); err != nil {
		return fmt.Errorf("evaluating headers.js: %w", err)
	}
	return nil
}
