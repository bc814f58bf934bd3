package scriptcage

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestAbort_ControllerAbortSetsSignal(t *testing.T) {
	r := newTestRunner(t)
	res := runJS(t, r, `
		const controller = new AbortController();
		const before = controller.signal.aborted;
		controller.abort();
		console.log(JSON.stringify({ before, after: controller.signal.aborted, name: controller.signal.reason.name }));
	`)
	assertOK(t, res)

	var data struct {
		Before bool   `json:"before"`
		After  bool   `json:"after"`
		Name   string `json:"name"`
	}
	logJSON(t, res, 0, &data)
	if data.Before {
		t.Error("signal.aborted should be false before abort()")
	}
	if !data.After {
		t.Error("signal.aborted should be true after abort()")
	}
	if data.Name != "AbortError" {
		t.Errorf("default reason name = %q, want AbortError", data.Name)
	}
}

func TestAbort_ListenersRunOnceInOrder(t *testing.T) {
	r := newTestRunner(t)
	res := runJS(t, r, `
		const controller = new AbortController();
		const calls = [];
		controller.signal.addEventListener('abort', () => calls.push('first'));
		controller.signal.addEventListener('abort', () => calls.push('second'));
		controller.abort();
		controller.abort();
		console.log(JSON.stringify(calls));
	`)
	assertOK(t, res)

	var calls []string
	logJSON(t, res, 0, &calls)
	if strings.Join(calls, ",") != "first,second" {
		t.Fatalf("calls = %v, want [first second]", calls)
	}
}

func TestAbort_OnAbortAndRemovedListener(t *testing.T) {
	r := newTestRunner(t)
	res := runJS(t, r, `
		const controller = new AbortController();
		const calls = [];
		const removed = () => calls.push('removed');
		controller.signal.onabort = (ev) => calls.push('onabort:' + ev.type);
		controller.signal.addEventListener('abort', removed);
		controller.signal.removeEventListener('abort', removed);
		controller.signal.addEventListener('abort', () => calls.push('kept'));
		controller.abort();
		console.log(JSON.stringify(calls));
	`)
	assertOK(t, res)

	var calls []string
	logJSON(t, res, 0, &calls)
	if strings.Join(calls, ",") != "onabort:abort,kept" {
		t.Fatalf("calls = %v", calls)
	}
}

func TestAbort_ListenerErrorDoesNotStopOthers(t *testing.T) {
	r := newTestRunner(t)
	res := runJS(t, r, `
		const controller = new AbortController();
		const calls = [];
		controller.signal.addEventListener('abort', () => { throw new Error('listener failed'); });
		controller.signal.addEventListener('abort', () => calls.push('after'));
		controller.abort();
		console.log(JSON.stringify(calls));
	`)
	assertOK(t, res)

	var calls []string
	logJSON(t, res, 0, &calls)
	if len(calls) != 1 || calls[0] != "after" {
		t.Fatalf("calls = %v", calls)
	}
}

func TestAbort_AbortReason(t *testing.T) {
	r := newTestRunner(t)
	res := runJS(t, r, `
		const controller = new AbortController();
		controller.abort("custom reason");
		let thrown = null;
		try { controller.signal.throwIfAborted(); } catch (e) { thrown = e; }
		console.log(JSON.stringify({ reason: controller.signal.reason, thrown }));
	`)
	assertOK(t, res)

	var data struct {
		Reason string `json:"reason"`
		Thrown string `json:"thrown"`
	}
	logJSON(t, res, 0, &data)
	if data.Reason != "custom reason" || data.Thrown != "custom reason" {
		t.Fatalf("got %+v", data)
	}
}

func TestAbort_StaticAbortAndTimeout(t *testing.T) {
	r := newTestRunner(t)
	res := runJS(t, r, `
		const s1 = AbortSignal.abort();
		const s2 = AbortSignal.timeout(10);
		const before = s2.aborted;
		await new Promise((resolve) => s2.addEventListener('abort', resolve));
		console.log(JSON.stringify({ s1: s1.aborted, before, after: s2.aborted, name: s2.reason.name }));
	`)
	assertOK(t, res)

	var data struct {
		S1     bool   `json:"s1"`
		Before bool   `json:"before"`
		After  bool   `json:"after"`
		Name   string `json:"name"`
	}
	logJSON(t, res, 0, &data)
	if !data.S1 || data.Before || !data.After || data.Name != "TimeoutError" {
		t.Fatalf("got %+v", data)
	}
}

func TestAbort_SignalConstructorIsIllegal(t *testing.T) {
	r := newTestRunner(t)
	res := runJS(t, r, `
		try { new AbortSignal(); console.log("constructed"); }
		catch (e) { console.log(e.name); }
	`)
	assertOK(t, res)
	if got := logLines(res); len(got) != 1 || got[0] != "TypeError" {
		t.Fatalf("got %v", got)
	}
}

func TestAbort_FetchAbortCancelsHook(t *testing.T) {
	cancelled := make(chan struct{})
	hook := NetworkHookFunc(func(ctx context.Context, in FetchInput, init FetchInit) (*Reply, error) {
		select {
		case <-ctx.Done():
			close(cancelled)
			return nil, ctx.Err()
		case <-time.After(3 * time.Second):
			return &Reply{Status: 200, OK: true, BodyBytes: []byte("late")}, nil
		}
	})
	r := newTestRunner(t, WithNetworkHook(hook))
	res := runJS(t, r, `
		const controller = new AbortController();
		const p = fetch("https://example.test/slow", { signal: controller.signal });
		setTimeout(() => controller.abort(), 10);
		try {
			await p;
			console.log("resolved");
		} catch (e) {
			console.log(e.name + ": " + e.message);
		}
	`)
	assertOK(t, res)

	if got := logLines(res); len(got) != 1 || got[0] != "AbortError: The operation was aborted." {
		t.Fatalf("got %v", got)
	}
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("hook context was not cancelled")
	}
}

func TestAbort_AlreadyAbortedSignal(t *testing.T) {
	hook := &staticHook{reply: jsonReply(`{}`)}
	r := newTestRunner(t, WithNetworkHook(hook))
	res := runJS(t, r, `
		const controller = new AbortController();
		controller.abort();
		try {
			await fetch("https://example.test/", { signal: controller.signal });
			console.log("resolved");
		} catch (e) {
			console.log(e.name);
		}
	`)
	assertOK(t, res)
	if got := logLines(res); len(got) != 1 || got[0] != "AbortError" {
		t.Fatalf("got %v", got)
	}
}
