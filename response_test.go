package scriptcage

import (
	"strings"
	"testing"
)

func TestResponse_HeadersCaseInsensitive(t *testing.T) {
	r := newTestRunner(t)
	res := runJS(t, r, `
		const fromPairs = new Response("x", { headers: [["X-Custom", "pairs"]] });
		const fromMap = new Response("x", { headers: { "X-Custom": "map" } });
		const fromShim = new Response("x", { headers: new Headers({ "X-Custom": "shim" }) });
		const out = [];
		for (const resp of [fromPairs, fromMap, fromShim]) {
			out.push([resp.headers.get("x-custom"), resp.headers.get("X-CUSTOM"), resp.headers.has("X-Custom")]);
		}
		console.log(JSON.stringify(out));
	`)
	assertOK(t, res)

	var out [][]any
	logJSON(t, res, 0, &out)
	want := []string{"pairs", "map", "shim"}
	for i, row := range out {
		if row[0] != want[i] || row[1] != want[i] || row[2] != true {
			t.Errorf("row %d = %v", i, row)
		}
	}
}

func TestResponse_SingleConsumption(t *testing.T) {
	r := newTestRunner(t)
	res := runJS(t, r, `
		const methods = ["text", "json", "arrayBuffer", "blob", "formData", "bytes"];
		const out = [];
		for (const first of methods) {
			for (const second of methods) {
				const resp = new Response('{"k":1}');
				try { await resp[first](); } catch (e) { out.push("first " + first + " failed: " + e); continue; }
				try {
					await resp[second]();
					out.push(first + "->" + second + " succeeded");
				} catch (e) {
					if (!(e instanceof TypeError)) out.push(first + "->" + second + " wrong error " + e.name);
				}
			}
		}
		console.log(JSON.stringify(out));
	`)
	assertOK(t, res)

	var out []string
	logJSON(t, res, 0, &out)
	if len(out) != 0 {
		t.Fatalf("unexpected outcomes:\n%s", strings.Join(out, "\n"))
	}
}

func TestResponse_CloneIndependence(t *testing.T) {
	r := newTestRunner(t)
	res := runJS(t, r, `
		const a = new Response("body", { status: 201, headers: { "X-A": "1" } });
		const b = a.clone();
		const bText = await b.text();
		const afterCloneRead = a.bodyUsed;
		const aText = await a.text();
		const c = new Response("again");
		const d = c.clone();
		await c.text();
		const e = d.clone();
		console.log(JSON.stringify({
			bText, aText, afterCloneRead,
			status: b.status, header: b.headers.get("x-a"),
			dUsed: d.bodyUsed, eText: await e.text(), dText: await d.text(),
		}));
	`)
	assertOK(t, res)

	var data struct {
		BText          string `json:"bText"`
		AText          string `json:"aText"`
		AfterCloneRead bool   `json:"afterCloneRead"`
		Status         int    `json:"status"`
		Header         string `json:"header"`
		DUsed          bool   `json:"dUsed"`
		EText          string `json:"eText"`
		DText          string `json:"dText"`
	}
	logJSON(t, res, 0, &data)
	if data.BText != "body" || data.AText != "body" || data.AfterCloneRead {
		t.Errorf("clone read affected original: %+v", data)
	}
	if data.Status != 201 || data.Header != "1" {
		t.Errorf("clone lost fields: %+v", data)
	}
	if data.DUsed || data.EText != "again" || data.DText != "again" {
		t.Errorf("nested clone: %+v", data)
	}
}

func TestResponse_CloneAfterConsumeFails(t *testing.T) {
	r := newTestRunner(t)
	res := runJS(t, r, `
		const resp = new Response("x");
		await resp.text();
		const c = resp.clone();
		console.log(JSON.stringify({ error: c._error === true, isResponse: c instanceof Response }));
	`)
	assertOK(t, res)

	var data struct {
		Error      bool `json:"error"`
		IsResponse bool `json:"isResponse"`
	}
	logJSON(t, res, 0, &data)
	if !data.Error || data.IsResponse {
		t.Fatalf("clone of consumed response = %+v", data)
	}
}

func TestResponse_JSONRoundTrip(t *testing.T) {
	r := newTestRunner(t)
	res := runJS(t, r, `
		const value = { s: "text", n: 1.5, b: true, nil: null, list: [1, "two", { three: 3 }], nested: { deep: { x: [] } } };
		const back = await new Response(value).json();
		const viaStatic = await Response.json(value, { status: 202 }).json();
		console.log(JSON.stringify(back) === JSON.stringify(value) && JSON.stringify(viaStatic) === JSON.stringify(value) ? "equal" : JSON.stringify(back));
		console.log(new Response(value).headers.get("content-type"));
	`)
	assertOK(t, res)

	got := logLines(res)
	if len(got) != 2 || got[0] != "equal" || got[1] != "application/json" {
		t.Fatalf("got %v", got)
	}
}

func TestResponse_BodyNormalization(t *testing.T) {
	r := newTestRunner(t)
	res := runJS(t, r, `
		const out = {};
		out.string = await new Response("héllo").text();
		out.bytes = await new Response(new Uint8Array([104, 105])).text();
		out.params = await new Response(new URLSearchParams({ a: "1", b: "x y" })).text();
		out.date = await new Response(new Date(0)).text();
		out.regex = await new Response(/ab+c/g).text();
		const circular = {}; circular.self = circular;
		out.circular = await new Response(circular).text();
		out.empty = await new Response().text();
		console.log(JSON.stringify(out));
	`)
	assertOK(t, res)

	var out map[string]string
	logJSON(t, res, 0, &out)
	want := map[string]string{
		"string":   "héllo",
		"bytes":    "hi",
		"params":   "a=1&b=x+y",
		"date":     "1970-01-01T00:00:00.000Z",
		"regex":    "/ab+c/g",
		"circular": "[object Object]",
		"empty":    "",
	}
	for k, v := range want {
		if out[k] != v {
			t.Errorf("%s = %q, want %q", k, out[k], v)
		}
	}
}

func TestResponse_DecodeErrors(t *testing.T) {
	r := newTestRunner(t)
	res := runJS(t, r, `
		try { await new Response("{not json").json(); } catch (e) { console.log(e.name); }
		const status = [];
		for (const s of [199, 600]) {
			try { new Response("", { status: s }); status.push("ok"); } catch (e) { status.push(e.name); }
		}
		console.log(status.join(","));
	`)
	assertOK(t, res)

	if got := logLines(res); strings.Join(got, "|") != "JSONError|RangeError,RangeError" {
		t.Fatalf("got %v", got)
	}
}

func TestResponse_ArrayBufferBlobFormData(t *testing.T) {
	r := newTestRunner(t)
	res := runJS(t, r, `
		const ab = await new Response("abc").arrayBuffer();
		const blob = await new Response("abcd").blob();
		const form = await new Response("a=1&b=two+words&a=3").formData();
		console.log(JSON.stringify({ abLen: ab.length, first: ab[0], blobSize: blob.size, blobType: blob.type, form }));
	`)
	assertOK(t, res)

	var data struct {
		ABLen    int               `json:"abLen"`
		First    int               `json:"first"`
		BlobSize int               `json:"blobSize"`
		BlobType string            `json:"blobType"`
		Form     map[string]string `json:"form"`
	}
	logJSON(t, res, 0, &data)
	if data.ABLen != 3 || data.First != 97 || data.BlobSize != 4 || data.BlobType != "application/octet-stream" {
		t.Errorf("got %+v", data)
	}
	if data.Form["a"] != "3" || data.Form["b"] != "two words" {
		t.Errorf("form = %v", data.Form)
	}
}

func TestResponse_Error(t *testing.T) {
	r := newTestRunner(t)
	res := runJS(t, r, `
		const e = Response.error();
		console.log(JSON.stringify({ type: e.type, status: e.status, ok: e.ok }));
	`)
	assertOK(t, res)

	var data struct {
		Type   string `json:"type"`
		Status int    `json:"status"`
		OK     bool   `json:"ok"`
	}
	logJSON(t, res, 0, &data)
	if data.Type != "error" || data.Status != 0 || data.OK {
		t.Fatalf("got %+v", data)
	}
}

func TestResponse_HeadersIgnorePrototype(t *testing.T) {
	r := newTestRunner(t)
	res := runJS(t, r, `
		const resp = new Response("x", { headers: { "X-A": "1" } });
		console.log(JSON.stringify([
			resp.headers.get("toString"), resp.headers.has("constructor"),
			resp.headers.get("__proto__"), resp.headers.get("X-A"),
		]));
	`)
	assertOK(t, res)
	if got := logLines(res); len(got) != 1 || got[0] != `[null,false,null,"1"]` {
		t.Fatalf("got %v", got)
	}
}

func TestResponse_TextRecoversAfterBrokenSequence(t *testing.T) {
	r := newTestRunner(t)
	res := runJS(t, r, `
		const cases = [[0xe2, 0x41], [0xe2, 0x82, 0x41], [0xf0, 0x9f, 0x98], [0xed, 0xa0, 0x80, 0x42], [0xe2, 0x82, 0xac]];
		const out = [];
		for (const c of cases) {
			const text = await new Response(new Uint8Array(c)).text();
			out.push(Array.from(text).map((ch) => ch.codePointAt(0).toString(16)).join(" "));
		}
		console.log(out.join("|"));
	`)
	assertOK(t, res)
	want := "fffd 41|fffd 41|fffd|fffd fffd fffd 42|20ac"
	if got := logLines(res); len(got) != 1 || got[0] != want {
		t.Fatalf("got %v, want %s", got, want)
	}
}
