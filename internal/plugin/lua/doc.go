// Package lua runs scripted plugins and configuration predicates on
// gopher-lua.
//
// # State
//
// State is a sandboxed interpreter: only the base, table, string and math
// libraries are opened, dofile/loadfile/load are removed and require only
// resolves whitelisted modules. Every call runs under a timeout.
//
// # Scripts
//
// A Script is a plugin written in Lua:
//
//	local seen = 0
//
//	function init(cfg)
//	    rum.subscribe("xhr_load", function(res) seen = seen + 1 end)
//	end
//
//	function is_complete(vars)
//	    return vars["t_done"] ~= nil
//	end
//
//	rum.subscribe("before_beacon", function()
//	    rum.add_var("custom.xhrs", seen)
//	end)
//
// The rum module exposes add_var, remove_var, subscribe, send_beacon, now
// and log.
//
// # Predicates
//
// Predicate compiles a configuration expression such as
// "return args.path ~= '/health'" into a reusable filter.
//
// States are not safe for concurrent use; like the rest of the agent core
// they are owned by the run loop.
package lua
