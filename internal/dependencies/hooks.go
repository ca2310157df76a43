package dependencies

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/distr1/whey/internal/external"
	"golang.org/x/xerrors"
)

// hookScript runs one PEP 517 hook of the build backend in a subprocess of
// the build environment's interpreter. Arguments and results are exchanged
// as JSON files.
const hookScript = `import importlib, json, os, sys

hook, infile, outfile = sys.argv[1:4]
with open(infile) as f:
    data = json.load(f)
for p in reversed(data.get("backend_path") or []):
    sys.path.insert(0, os.path.abspath(p))
mod, _, obj = data["backend"].partition(":")
backend = importlib.import_module(mod.strip())
for attr in filter(None, obj.strip().split(".")):
    backend = getattr(backend, attr)
result = {"unsupported": False, "return_val": None}
fn = getattr(backend, hook, None)
if fn is None:
    result["unsupported"] = True
else:
    result["return_val"] = fn(**data.get("kwargs", {}))
with open(outfile, "w") as f:
    json.dump(result, f)
`

// HookError is returned when a hook fails. Output holds the combined output
// of the backend.
type HookError struct {
	Hook    string
	Output  string
	LogFile string // copy of Output, if logged
	Err     error
}

func (e *HookError) Error() string {
	return "PEP 517 hook " + e.Hook + ": " + e.Err.Error()
}

func (e *HookError) Unwrap() error { return e.Err }

// HookCaller calls PEP 517 hooks of the build backend of one source tree.
type HookCaller struct {
	Runner      *external.Runner
	Python      string // interpreter of the build environment
	SourceRoot  string
	BuildSystem BuildSystem

	// Env is added to the environment of every hook invocation.
	Env map[string]string

	// LogDir, if non-empty, receives one log file per hook invocation.
	LogDir string

	NetworkIsolation bool
}

type hookInput struct {
	Backend     string                 `json:"backend"`
	BackendPath []string               `json:"backend_path"`
	Kwargs      map[string]interface{} `json:"kwargs"`
}

type hookOutput struct {
	Unsupported bool            `json:"unsupported"`
	ReturnVal   json.RawMessage `json:"return_val"`
}

// call runs hook and returns its JSON return value, or nil if the backend
// does not implement the (optional) hook.
func (h *HookCaller) call(ctx context.Context, hook string, kwargs map[string]interface{}) (json.RawMessage, error) {
	tmp, err := os.MkdirTemp("", "whey-hook")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	script := filepath.Join(tmp, "hook.py")
	if err := os.WriteFile(script, []byte(hookScript), 0644); err != nil {
		return nil, err
	}
	if kwargs == nil {
		kwargs = map[string]interface{}{}
	}
	in, err := json.Marshal(hookInput{
		Backend:     h.BuildSystem.Backend,
		BackendPath: h.BuildSystem.BackendPath,
		Kwargs:      kwargs,
	})
	if err != nil {
		return nil, err
	}
	infile := filepath.Join(tmp, "input.json")
	outfile := filepath.Join(tmp, "output.json")
	if err := os.WriteFile(infile, in, 0644); err != nil {
		return nil, err
	}
	var logFile string
	if h.LogDir != "" {
		logFile = filepath.Join(h.LogDir, hook+".log")
	}
	output, err := h.Runner.Run(ctx, external.Cmd{
		Args:             []string{h.Python, script, hook, infile, outfile},
		Dir:              h.SourceRoot,
		Env:              h.Env,
		LogFile:          logFile,
		NetworkIsolation: h.NetworkIsolation,
	})
	if err != nil {
		return nil, &HookError{Hook: hook, Output: output, LogFile: logFile, Err: err}
	}
	b, err := os.ReadFile(outfile)
	if err != nil {
		return nil, &HookError{Hook: hook, Output: output, LogFile: logFile, Err: err}
	}
	var out hookOutput
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, &HookError{Hook: hook, Output: output, Err: err}
	}
	if out.Unsupported {
		return nil, nil
	}
	return out.ReturnVal, nil
}

// GetRequiresForBuildWheel returns the additional requirements of the
// backend for building a wheel. Backends without the hook need nothing.
func (h *HookCaller) GetRequiresForBuildWheel(ctx context.Context) ([]string, error) {
	ret, err := h.call(ctx, "get_requires_for_build_wheel", nil)
	if err != nil {
		return nil, err
	}
	if ret == nil {
		return nil, nil
	}
	var reqs []string
	if err := json.Unmarshal(ret, &reqs); err != nil {
		return nil, &HookError{Hook: "get_requires_for_build_wheel", Err: err}
	}
	return reqs, nil
}

// BuildWheel builds a wheel into outDir and returns its file name as
// reported by the backend.
func (h *HookCaller) BuildWheel(ctx context.Context, outDir string) (string, error) {
	ret, err := h.call(ctx, "build_wheel", map[string]interface{}{"wheel_directory": outDir})
	if err != nil {
		return "", err
	}
	if ret == nil {
		return "", &HookError{Hook: "build_wheel", Err: xerrors.New("backend does not implement build_wheel")}
	}
	var fn string
	if err := json.Unmarshal(ret, &fn); err != nil {
		return "", &HookError{Hook: "build_wheel", Err: err}
	}
	return fn, nil
}
