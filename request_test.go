package scriptcage

import "testing"

func TestRequest_Fields(t *testing.T) {
	r := newTestRunner(t)
	res := runJS(t, r, `
		const req = new Request("https://example.test/path?q=1", {
			method: "post",
			headers: { "X-Key": "v" },
			body: "data",
			mode: "no-cors",
			redirect: "manual",
		});
		console.log(JSON.stringify({
			url: req.url, method: req.method, header: req.headers["x-key"],
			mode: req.mode, credentials: req.credentials, cache: req.cache,
			redirect: req.redirect, referrer: req.referrer, integrity: req.integrity,
			body: req.body, bodyUsed: req.bodyUsed,
			hidden: Object.keys(req).indexOf("__nativeRequestData") < 0 && typeof req.__nativeRequestData === "number",
		}));
	`)
	assertOK(t, res)

	var data struct {
		URL         string  `json:"url"`
		Method      string  `json:"method"`
		Header      string  `json:"header"`
		Mode        string  `json:"mode"`
		Credentials string  `json:"credentials"`
		Cache       string  `json:"cache"`
		Redirect    string  `json:"redirect"`
		Referrer    string  `json:"referrer"`
		Integrity   string  `json:"integrity"`
		Body        *string `json:"body"`
		BodyUsed    bool    `json:"bodyUsed"`
		Hidden      bool    `json:"hidden"`
	}
	logJSON(t, res, 0, &data)
	if data.URL != "https://example.test/path?q=1" || data.Method != "POST" || data.Header != "v" {
		t.Errorf("basic fields: %+v", data)
	}
	if data.Mode != "no-cors" || data.Credentials != "same-origin" || data.Cache != "default" || data.Redirect != "manual" {
		t.Errorf("options: %+v", data)
	}
	if data.Referrer != "about:client" || data.Integrity != "" {
		t.Errorf("referrer/integrity: %+v", data)
	}
	if data.Body != nil || data.BodyUsed || !data.Hidden {
		t.Errorf("body/marker: %+v", data)
	}
}

func TestRequest_Errors(t *testing.T) {
	r := newTestRunner(t)
	res := runJS(t, r, `
		const out = [];
		for (const fn of [
			() => new Request("https://example.test/", { method: "GET", body: "x" }),
			() => new Request("https://example.test/", { method: "CONNECT" }),
			() => new Request("https://example.test/", { method: "bad method" }),
			() => new Request("https://example.test/", { redirect: "sometimes" }),
			() => new Request("no scheme"),
		]) {
			try { fn(); out.push("ok"); } catch (e) { out.push(e.name); }
		}
		console.log(out.join(","));
	`)
	assertOK(t, res)
	if got := logLines(res); len(got) != 1 || got[0] != "TypeError,TypeError,TypeError,TypeError,TypeError" {
		t.Fatalf("got %v", got)
	}
}

func TestRequest_CloneAndCopy(t *testing.T) {
	hook := &staticHook{reply: jsonReply(`{}`)}
	r := newTestRunner(t, WithNetworkHook(hook))
	res := runJS(t, r, `
		const base = new Request("https://example.test/a", { method: "PUT", body: "b", headers: [["X-A", "1"]] });
		const copy = base.clone();
		const derived = new Request(base, { headers: { "X-B": "2" } });
		console.log(JSON.stringify({
			cloneMethod: copy.method, cloneURL: copy.url, cloneHeader: copy.headers["x-a"],
			derivedMethod: derived.method, derivedHeaders: derived.headers,
		}));
		await fetch(copy);
	`)
	assertOK(t, res)

	var data struct {
		CloneMethod    string            `json:"cloneMethod"`
		CloneURL       string            `json:"cloneURL"`
		CloneHeader    string            `json:"cloneHeader"`
		DerivedMethod  string            `json:"derivedMethod"`
		DerivedHeaders map[string]string `json:"derivedHeaders"`
	}
	logJSON(t, res, 0, &data)
	if data.CloneMethod != "PUT" || data.CloneURL != "https://example.test/a" || data.CloneHeader != "1" {
		t.Errorf("clone: %+v", data)
	}
	if data.DerivedMethod != "PUT" || data.DerivedHeaders["x-b"] != "2" || data.DerivedHeaders["x-a"] != "" {
		t.Errorf("derived: %+v", data)
	}
	if len(hook.calls) != 1 || string(hook.calls[0].Body) != "b" || hook.calls[0].Method != "PUT" {
		t.Fatalf("fetch(clone) lost native data: %+v", hook.calls)
	}
}

func TestRequest_BodyKeepsSourceMethod(t *testing.T) {
	hook := &staticHook{reply: jsonReply(`{}`)}
	r := newTestRunner(t, WithNetworkHook(hook))
	res := runJS(t, r, `
		const post = new Request("https://example.test/a", { method: "POST", body: "abc" });
		const derived = new Request(post, { body: "def" });
		const out = [derived.method];
		try {
			new Request(new Request("https://example.test/b"), { body: "x" });
			out.push("ok");
		} catch (e) {
			out.push(e.name);
		}
		console.log(out.join(","));
		await fetch(derived);
	`)
	assertOK(t, res)
	if got := logLines(res); len(got) != 1 || got[0] != "POST,TypeError" {
		t.Fatalf("got %v", got)
	}
	if len(hook.calls) != 1 || string(hook.calls[0].Body) != "def" || hook.calls[0].Method != "POST" {
		t.Fatalf("derived request: %+v", hook.calls)
	}
}
