package webapi

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cryguy/scriptcage/internal/core"
)

// consoleJS builds the console object on top of __console. Arguments are
// sent as one JSON array; values JSON cannot carry are stringified first.
const consoleJS = `
(function() {
	function plain(v, seen) {
		switch (typeof v) {
		case 'undefined': return 'undefined';
		case 'function': return '[Function' + (v.name ? ': ' + v.name : ' (anonymous)') + ']';
		case 'symbol': return v.toString();
		case 'bigint': return v.toString() + 'n';
		case 'number': return isFinite(v) ? v : String(v);
		case 'object':
			if (v === null) return null;
			if (v instanceof Error) return (v.name || 'Error') + ': ' + v.message;
			if (seen.indexOf(v) >= 0) return '[Circular]';
			seen.push(v);
			var out;
			if (Array.isArray(v)) {
				out = v.map(function(x) { return plain(x, seen); });
			} else if (typeof v.toJSON === 'function') {
				out = plain(v.toJSON(), seen);
			} else {
				out = {};
				for (var k in v) {
					if (Object.prototype.hasOwnProperty.call(v, k)) out[k] = plain(v[k], seen);
				}
			}
			seen.pop();
			return out;
		}
		return v;
	}

	function emit(level, args) {
		var list = [];
		for (var i = 0; i < args.length; i++) list.push(plain(args[i], []));
		__console(level, JSON.stringify(list));
	}

	var con = {};
	['log', 'info', 'warn', 'error', 'debug'].forEach(function(level) {
		con[level] = function() { emit(level, arguments); };
	});

	var timers = {};
	var counters = {};
	var depth = 0;
	function indent(args) {
		if (depth === 0) return args;
		var pad = new Array(depth + 1).join('  ');
		var out = Array.prototype.slice.call(args);
		if (typeof out[0] === 'string') out[0] = pad + out[0];
		else out.unshift(pad.slice(0, -1));
		return out;
	}
	['log', 'info', 'warn', 'error', 'debug'].forEach(function(level) {
		var raw = con[level];
		con[level] = function() { raw.apply(null, indent(arguments)); };
	});

	con.trace = function() {
		con.log.apply(null, ['Trace:'].concat(Array.prototype.slice.call(arguments)));
	};
	con.time = function(label) {
		timers[label === undefined ? 'default' : String(label)] = Date.now();
	};
	function elapsed(label) {
		var l = label === undefined ? 'default' : String(label);
		if (!(l in timers)) {
			con.warn("Timer '" + l + "' does not exist");
			return null;
		}
		return l + ': ' + (Date.now() - timers[l]) + 'ms';
	}
	con.timeLog = function(label) {
		var msg = elapsed(label);
		if (msg !== null) con.log.apply(null, [msg].concat(Array.prototype.slice.call(arguments, 1)));
	};
	con.timeEnd = function(label) {
		var msg = elapsed(label);
		if (msg !== null) {
			delete timers[label === undefined ? 'default' : String(label)];
			con.log(msg);
		}
	};
	con.count = function(label) {
		var l = label === undefined ? 'default' : String(label);
		counters[l] = (counters[l] || 0) + 1;
		con.log(l + ': ' + counters[l]);
	};
	con.countReset = function(label) {
		counters[label === undefined ? 'default' : String(label)] = 0;
	};
	con.assert = function(cond) {
		if (cond) return;
		var rest = Array.prototype.slice.call(arguments, 1);
		con.error.apply(null, ['Assertion failed' + (rest.length ? ':' : '')].concat(rest));
	};
	con.table = function(data) { con.log(data); };
	con.dir = function(obj) { con.log(obj); };
	con.group = function() {
		if (arguments.length) con.log.apply(null, arguments);
		depth++;
	};
	con.groupCollapsed = con.group;
	con.groupEnd = function() { if (depth > 0) depth--; };

	globalThis.console = con;
})();
`

// SetupConsole installs console. Every call becomes one core.ConsoleEntry,
// kept in the run state, handed to sink and mirrored to the host logger.
func SetupConsole(mc *ModuleCtx, sink core.ConsoleSink) error {
	log := mc.Log
	if err := mc.RT.RegisterFunc("__console", func(level, argsJSON string) {
		var args []any
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			args = []any{argsJSON}
		}
		entry := core.ConsoleEntry{Type: level, Args: args, Timestamp: time.Now()}
		if !mc.State.AddConsole(entry) {
			return
		}
		if sink != nil {
			sink.OnConsoleEntry(entry)
		}
		log.Debug("guest console", zap.String("level", level), zap.Any("args", entry.Args))
	}); err != nil {
		return err
	}
	if err := mc.RT.Eval(consoleJS); err != nil {
		return fmt.Errorf("evaluating console.js: %w", err)
	}
	return nil
}
