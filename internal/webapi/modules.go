package webapi

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
	"go.uber.org/zap"
)

// ScriptPromiseGlobal holds the promise of the wrapped script body.
const ScriptPromiseGlobal = "__script_promise"

const hostModuleNamespace = "host-module"

// moduleLoaderJS defines require() over host-supplied CommonJS sources.
const moduleLoaderJS = `
(function() {
var cache = {};
function require(name) {
	name = String(name);
	if (Object.prototype.hasOwnProperty.call(cache, name)) return cache[name].exports;
	var code;
	try {
		code = __requireSource(name);
	} catch (e) {
		throw new Error(__hostErr(e));
	}
	var module = { exports: {} };
	cache[name] = module;
	try {
		(new Function('module', 'exports', 'require', code))(module, module.exports, require);
	} catch (e) {
		delete cache[name];
		throw e;
	}
	return module.exports;
}
globalThis.require = require;
})();
`

// moduleKey maps an import specifier to the name it was registered under.
// "./name", "./name.js" and "./name.ts" all resolve to "name".
func moduleKey(modules map[string]string, spec string) (string, bool) {
	if _, ok := modules[spec]; ok {
		return spec, true
	}
	trimmed := strings.TrimPrefix(spec, "./")
	for _, ext := range []string{"", ".js", ".ts", ".mjs"} {
		name := strings.TrimSuffix(trimmed, ext)
		if _, ok := modules[name]; ok {
			return name, true
		}
	}
	return "", false
}

// hostModulesPlugin resolves every import from the supplied sources and
// records the first specifier it could not find.
func hostModulesPlugin(modules map[string]string, missing *string) api.Plugin {
	return api.Plugin{
		Name: "host-modules",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: ".*"}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				switch args.Kind {
				case api.ResolveEntryPoint:
					return api.OnResolveResult{}, nil
				case api.ResolveJSRequireCall:
					// Left to the runtime require().
					return api.OnResolveResult{Path: args.Path, External: true}, nil
				}
				name, ok := moduleKey(modules, args.Path)
				if !ok {
					if *missing == "" {
						*missing = args.Path
					}
					return api.OnResolveResult{}, fmt.Errorf("%w: %s", ErrUnknownModule, args.Path)
				}
				return api.OnResolveResult{Path: name, Namespace: hostModuleNamespace}, nil
			})
			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: hostModuleNamespace}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
				src := modules[args.Path]
				return api.OnLoadResult{Contents: &src, Loader: api.LoaderTS}, nil
			})
		},
	}
}

func messages(msgs []api.Message) string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Text)
	}
	return strings.Join(out, "; ")
}

// BundleScript compiles a script and the host modules it imports into one
// self-contained program. The result runs the script body inside an async
// function, so top-level await works, and stores that function's promise in
// globalThis.__script_promise.
func BundleScript(source string, modules map[string]string) (string, error) {
	var missing string
	result := api.Build(api.BuildOptions{
		Stdin: &api.StdinOptions{
			Contents:   source,
			Sourcefile: "script.ts",
			Loader:     api.LoaderTS,
		},
		Bundle:      true,
		Format:      api.FormatESModule,
		Platform:    api.PlatformNeutral,
		Target:      api.ES2022,
		TreeShaking: api.TreeShakingFalse,
		Write:       false,
		Plugins:     []api.Plugin{hostModulesPlugin(modules, &missing)},
	})
	if missing != "" {
		return "", fmt.Errorf("bundling script: %w: %s", ErrUnknownModule, missing)
	}
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("bundling script: %s", messages(result.Errors))
	}
	if len(result.OutputFiles) == 0 {
		return "", fmt.Errorf("bundling produced no output")
	}
	return WrapScript(string(result.OutputFiles[0].Contents)), nil
}

// WrapScript places code in an async function whose promise is kept in
// globalThis.__script_promise.
func WrapScript(code string) string {
	return "globalThis." + ScriptPromiseGlobal + " = (async function() {\n" + code + "\n})();\n"
}

// transformModule compiles one module source to a CommonJS function body.
func transformModule(name, src string) (string, error) {
	result := api.Transform(src, api.TransformOptions{
		Format:     api.FormatCommonJS,
		Loader:     api.LoaderTS,
		Target:     api.ES2022,
		Sourcefile: name,
	})
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("compiling module %s: %s", name, messages(result.Errors))
	}
	return string(result.Code), nil
}

// ModuleNames returns the names of the supplied modules, sorted.
func ModuleNames(modules map[string]string) []string {
	names := make([]string, 0, len(modules))
	for k := range modules {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// SetupModuleLoader installs require(). Sources come from the run's module
// map and are compiled once per run.
func SetupModuleLoader(mc *ModuleCtx) error {
	var (
		mu       sync.Mutex
		compiled = make(map[string]string)
	)
	modules := mc.Modules
	log := mc.Log
	if err := mc.RT.RegisterFunc("__requireSource", func(spec string) (string, error) {
		name, ok := moduleKey(modules, spec)
		if !ok {
			log.Warn("module load failed", zap.String("module", spec), zap.Strings("available", ModuleNames(modules)))
			return "", fmt.Errorf("%w: %s", ErrUnknownModule, spec)
		}
		mu.Lock()
		defer mu.Unlock()
		if code, ok := compiled[name]; ok {
			return code, nil
		}
		code, err := transformModule(name, modules[name])
		if err != nil {
			log.Warn("module load failed", zap.String("module", name), zap.Error(err))
			return "", err
		}
		compiled[name] = code
		return code, nil
	}); err != nil {
		return err
	}
	if err := mc.RT.Eval(moduleLoaderJS); err != nil {
		return fmt.Errorf("evaluating modules.js: %w", err)
	}
	return nil
}
