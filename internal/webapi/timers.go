package webapi

import (
	"fmt"
	"time"
)

// timersJS keeps callbacks in __timerCallbacks; the event loop fires them
// by id.
const timersJS = `
(function() {
	globalThis.__timerCallbacks = {};
	function schedule(fn, delay, rest, repeat) {
		if (typeof fn !== 'function') return 0;
		var ms = Number(delay);
		if (!isFinite(ms) || ms < 0) ms = 0;
		var id = __timerRegister(Math.floor(ms), repeat);
		globalThis.__timerCallbacks[id] = { fn: fn, args: rest, interval: repeat };
		return id;
	}
	globalThis.setTimeout = function(fn, delay) {
		return schedule(fn, delay, Array.prototype.slice.call(arguments, 2), false);
	};
	globalThis.setInterval = function(fn, delay) {
		return schedule(fn, delay, Array.prototype.slice.call(arguments, 2), true);
	};
	globalThis.clearTimeout = globalThis.clearInterval = function(id) {
		if (typeof id !== 'number') return;
		__timerClear(id);
		delete globalThis.__timerCallbacks[id];
	};
})();
`

// SetupTimers installs setTimeout, setInterval, clearTimeout and
// clearInterval on the run's event loop.
func SetupTimers(mc *ModuleCtx) error {
	el := mc.Loop
	if err := mc.RT.RegisterFunc("__timerRegister", func(delayMs int, isInterval bool) int {
		return el.RegisterTimer(time.Duration(delayMs)*time.Millisecond, isInterval)
	}); err != nil {
		return err
	}
	if err := mc.RT.RegisterFunc("__timerClear", func(id int) {
		el.ClearTimer(id)
	}); err != nil {
		return err
	}
	if err := mc.RT.Eval(timersJS); err != nil {
		return fmt.Errorf("evaluating timers.js: %w", err)
	}
	return nil
}
