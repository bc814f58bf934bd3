package webapi

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// urlJS defines URL and URLSearchParams on top of the Go parser.
const urlJS = `
(function() {
function decodePart(s) {
	try { return decodeURIComponent(s.replace(/\+/g, '%20')); } catch (e) { return s; }
}
function encodePart(s) {
	return encodeURIComponent(s).replace(/%20/g, '+');
}
function parseQuery(s) {
	var out = [];
	if (s.charAt(0) === '?') s = s.slice(1);
	if (!s) return out;
	var pairs = s.split('&');
	for (var i = 0; i < pairs.length; i++) {
		if (!pairs[i]) continue;
		var eq = pairs[i].indexOf('=');
		if (eq < 0) out.push([decodePart(pairs[i]), '']);
		else out.push([decodePart(pairs[i].slice(0, eq)), decodePart(pairs[i].slice(eq + 1))]);
	}
	return out;
}

function URLSearchParams(init) {
	if (!(this instanceof URLSearchParams)) throw new TypeError("Constructor URLSearchParams requires 'new'");
	this._entries = [];
	this._url = null;
	if (init instanceof URLSearchParams) {
		this._entries = init._entries.map(function(e) { return [e[0], e[1]]; });
	} else if (Array.isArray(init)) {
		for (var i = 0; i < init.length; i++) {
			if (!init[i] || init[i].length !== 2) throw new TypeError('Each query pair must be an iterable [name, value] tuple');
			this._entries.push([String(init[i][0]), String(init[i][1])]);
		}
	} else if (init && typeof init === 'object') {
		for (var k in init) {
			if (Object.prototype.hasOwnProperty.call(init, k)) this._entries.push([k, String(init[k])]);
		}
	} else if (init !== undefined && init !== null) {
		this._entries = parseQuery(String(init));
	}
}
URLSearchParams.prototype._sync = function() {
	if (this._url) {
		var s = this.toString();
		this._url._search = s ? '?' + s : '';
		this._url._rebuild();
	}
};
URLSearchParams.prototype.append = function(name, value) {
	this._entries.push([String(name), String(value)]);
	this._sync();
};
URLSearchParams.prototype['delete'] = function(name, value) {
	name = String(name);
	var withValue = arguments.length > 1;
	this._entries = this._entries.filter(function(e) {
		return !(e[0] === name && (!withValue || e[1] === String(value)));
	});
	this._sync();
};
URLSearchParams.prototype.get = function(name) {
	name = String(name);
	for (var i = 0; i < this._entries.length; i++) {
		if (this._entries[i][0] === name) return this._entries[i][1];
	}
	return null;
};
URLSearchParams.prototype.getAll = function(name) {
	name = String(name);
	return this._entries.filter(function(e) { return e[0] === name; }).map(function(e) { return e[1]; });
};
URLSearchParams.prototype.has = function(name, value) {
	name = String(name);
	var withValue = arguments.length > 1;
	return this._entries.some(function(e) {
		return e[0] === name && (!withValue || e[1] === String(value));
	});
};
URLSearchParams.prototype.set = function(name, value) {
	name = String(name);
	value = String(value);
	var out = [], done = false;
	for (var i = 0; i < this._entries.length; i++) {
		var e = this._entries[i];
		if (e[0] !== name) out.push(e);
		else if (!done) { out.push([name, value]); done = true; }
	}
	if (!done) out.push([name, value]);
	this._entries = out;
	this._sync();
};
URLSearchParams.prototype.sort = function() {
	this._entries.sort(function(a, b) { return a[0] < b[0] ? -1 : a[0] > b[0] ? 1 : 0; });
	this._sync();
};
URLSearchParams.prototype.forEach = function(cb, thisArg) {
	for (var i = 0; i < this._entries.length; i++) cb.call(thisArg, this._entries[i][1], this._entries[i][0], this);
};
URLSearchParams.prototype.entries = function() {
	return this._entries.map(function(e) { return [e[0], e[1]]; })[Symbol.iterator]();
};
URLSearchParams.prototype.keys = function() {
	return this._entries.map(function(e) { return e[0]; })[Symbol.iterator]();
};
URLSearchParams.prototype.values = function() {
	return this._entries.map(function(e) { return e[1]; })[Symbol.iterator]();
};
URLSearchParams.prototype[Symbol.iterator] = URLSearchParams.prototype.entries;
URLSearchParams.prototype.toString = function() {
	return this._entries.map(function(e) { return encodePart(e[0]) + '=' + encodePart(e[1]); }).join('&');
};
Object.defineProperty(URLSearchParams.prototype, 'size', {
	get: function() { return this._entries.length; }
});

function parse(input, base) {
	var parsed = JSON.parse(__parseURL(String(input), base === undefined || base === null ? '' : String(base)));
	if (parsed.error) throw new TypeError(parsed.error);
	return parsed;
}

function URL(input, base) {
	if (!(this instanceof URL)) throw new TypeError("Constructor URL requires 'new'");
	if (input instanceof URL) input = input.href;
	if (base instanceof URL) base = base.href;
	this._load(parse(input, base));
}
URL.prototype._load = function(p) {
	this._protocol = p.protocol;
	this._username = p.username;
	this._password = p.password;
	this._hostname = p.hostname;
	this._port = p.port;
	this._pathname = p.pathname;
	this._search = p.search;
	this._hash = p.hash;
	this._opaque = p.origin === 'null';
	this._params = new URLSearchParams(this._search);
	this._params._url = this;
	this._rebuild();
};
URL.prototype._rebuild = function() {
	if (this._opaque) {
		this._host = '';
		this._href = this._protocol + this._pathname + this._search + this._hash;
		return;
	}
	var auth = '';
	if (this._username) auth = this._username + (this._password ? ':' + this._password : '') + '@';
	this._host = this._port ? this._hostname + ':' + this._port : this._hostname;
	this._href = this._protocol + '//' + auth + this._host + this._pathname + this._search + this._hash;
};
URL.prototype._reparse = function() {
	this._rebuild();
	this._load(parse(this._href));
};
function accessor(name, setter) {
	var d = { get: function() { return this['_' + name]; }, configurable: true };
	if (setter) d.set = setter;
	Object.defineProperty(URL.prototype, name, d);
}
accessor('href', function(v) { this._load(parse(v)); });
accessor('protocol', function(v) { v = String(v); this._protocol = v.charAt(v.length - 1) === ':' ? v : v + ':'; this._reparse(); });
accessor('username', function(v) { this._username = String(v); this._rebuild(); });
accessor('password', function(v) { this._password = String(v); this._rebuild(); });
accessor('host', function(v) {
	v = String(v);
	var i = v.lastIndexOf(':');
	if (i > 0 && v.indexOf(']') < i) { this._hostname = v.slice(0, i); this._port = v.slice(i + 1); }
	else { this._hostname = v; this._port = ''; }
	this._reparse();
});
accessor('hostname', function(v) { this._hostname = String(v); this._reparse(); });
accessor('port', function(v) { this._port = String(v); this._reparse(); });
accessor('pathname', function(v) { v = String(v); this._pathname = v.charAt(0) === '/' ? v : '/' + v; this._reparse(); });
accessor('search', function(v) {
	v = String(v);
	this._search = v === '' || v === '?' ? '' : (v.charAt(0) === '?' ? v : '?' + v);
	this._params._entries = parseQuery(this._search);
	this._rebuild();
});
accessor('hash', function(v) {
	v = String(v);
	this._hash = v === '' || v === '#' ? '' : (v.charAt(0) === '#' ? v : '#' + v);
	this._rebuild();
});
Object.defineProperty(URL.prototype, 'origin', {
	get: function() { return this._opaque ? 'null' : this._protocol + '//' + this._host; }
});
Object.defineProperty(URL.prototype, 'searchParams', {
	get: function() { return this._params; }
});
URL.prototype.toString = function() { return this._href; };
URL.prototype.toJSON = function() { return this._href; };
URL.canParse = function(input, base) {
	try { parse(input, base); return true; } catch (e) { return false; }
};
URL.parse = function(input, base) {
	try { return new URL(input, base); } catch (e) { return null; }
};

globalThis.URL = URL;
globalThis.URLSearchParams = URLSearchParams;
})();
`

// URLParts is the JSON shape __parseURL hands back to the guest.
type URLParts struct {
	Href     string `json:"href"`
	Protocol string `json:"protocol"`
	Username string `json:"username"`
	Password string `json:"password"`
	Hostname string `json:"hostname"`
	Port     string `json:"port"`
	Pathname string `json:"pathname"`
	Search   string `json:"search"`
	Hash     string `json:"hash"`
	Origin   string `json:"origin"`
	Host     string `json:"host"`
}

// ParseURL resolves rawURL against base (if any) and splits it into the
// components a WHATWG URL exposes. Internationalized hostnames are converted
// to their ASCII form.
func ParseURL(rawURL, base string) (*URLParts, error) {
	ref, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %s", rawURL)
	}
	u := ref
	if base != "" {
		b, err := url.Parse(strings.TrimSpace(base))
		if err != nil || b.Scheme == "" {
			return nil, fmt.Errorf("invalid base URL: %s", base)
		}
		u = b.ResolveReference(ref)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("invalid URL: %s", rawURL)
	}

	hostname := u.Hostname()
	if hostname != "" && !isASCII(hostname) {
		ascii, err := idna.Lookup.ToASCII(hostname)
		if err != nil {
			return nil, fmt.Errorf("invalid URL: %s", rawURL)
		}
		hostname = ascii
	}
	hostname = strings.ToLower(hostname)
	if strings.Contains(hostname, ":") {
		hostname = "[" + hostname + "]"
	}

	p := &URLParts{
		Protocol: strings.ToLower(u.Scheme) + ":",
		Hostname: hostname,
		Port:     u.Port(),
		Pathname: u.EscapedPath(),
	}
	if p.Port == defaultPort(u.Scheme) {
		p.Port = ""
	}
	if u.User != nil {
		p.Username = u.User.Username()
		p.Password, _ = u.User.Password()
	}
	if p.Pathname == "" && hostname != "" {
		p.Pathname = "/"
	}
	if u.RawQuery != "" {
		p.Search = "?" + u.RawQuery
	}
	if u.Fragment != "" {
		p.Hash = "#" + u.EscapedFragment()
	}

	if u.Opaque != "" {
		p.Pathname = u.Opaque
		p.Href = p.Protocol + p.Pathname + p.Search + p.Hash
		p.Origin = "null"
		return p, nil
	}

	p.Host = p.Hostname
	if p.Port != "" {
		p.Host += ":" + p.Port
	}
	p.Origin = p.Protocol + "//" + p.Host
	auth := ""
	if p.Username != "" {
		auth = p.Username
		if p.Password != "" {
			auth += ":" + p.Password
		}
		auth += "@"
	}
	p.Href = p.Protocol + "//" + auth + p.Host + p.Pathname + p.Search + p.Hash
	return p, nil
}

func defaultPort(scheme string) string {
	switch strings.ToLower(scheme) {
	case "http", "ws":
		return "80"
	case "https", "wss":
		return "443"
	case "ftp":
		return "21"
	}
	return ""
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// SetupURL installs URL and URLSearchParams.
func SetupURL(mc *ModuleCtx) error {
	if err := mc.RT.RegisterFunc("__parseURL", func(rawURL, base string) (string, error) {
		parts, err := ParseURL(rawURL, base)
		if err != nil {
			data, _ := json.Marshal(map[string]string{"error": err.Error()})
			return string(data), nil
		}
		data, err := json.Marshal(parts)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}); err != nil {
		return err
	}
	if err := mc.RT.Eval(urlJS); err != nil {
		return fmt.Errorf("evaluating url.js: %w", err)
	}
	return nil
}
