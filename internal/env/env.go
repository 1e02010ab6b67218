package env

import (
	"os"
	"sort"
	"strings"
)

// Names of the variables a worker may receive from the controller.
const (
	APIKey           = "DEEPGRAM_API_KEY"
	PulseRuntimePath = "PULSE_RUNTIME_PATH"
	XDGRuntimeDir    = "XDG_RUNTIME_DIR"
	Display          = "DISPLAY"
	WaylandDisplay   = "WAYLAND_DISPLAY"
	Home             = "HOME"
	User             = "USER"
)

// Allowlist is the fixed set of variables forwarded to the worker.
// Order is the order in which they appear on the helper command line.
var Allowlist = []string{
	APIKey,
	PulseRuntimePath,
	XDGRuntimeDir,
	Display,
	WaylandDisplay,
	Home,
	User,
}

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

type Var map[string]string

// Snapshot captures the allow-listed variables that are set in the
// controller's own environment. Unset variables are absent from the result.
func Snapshot() Var { return SnapshotFrom(os.LookupEnv) }

// SnapshotFrom is Snapshot with an explicit lookup source.
func SnapshotFrom(lookup LookupFunc) Var {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v := make(Var, len(Allowlist))
	for _, k := range Allowlist {
		if val, ok := lookup(k); ok {
			v[k] = val
		}
	}
	return v
}

// Allowed reports whether k may be forwarded to the worker.
func Allowed(k string) bool {
	for _, a := range Allowlist {
		if a == k {
			return true
		}
	}
	return false
}

// Get returns the value for k and whether it is present.
func (v Var) Get(k string) (string, bool) {
	val, ok := v[k]
	return val, ok
}

// Set sets K=V. Keys outside the allowlist are ignored.
func (v Var) Set(k, val string) {
	if !Allowed(k) {
		return
	}
	v[k] = val
}

// Unset removes k.
func (v Var) Unset(k string) { delete(v, k) }

// Merge returns a copy of v with overrides applied on top.
// An empty override value removes the key instead of forwarding it empty.
func (v Var) Merge(overrides Var) Var {
	out := make(Var, len(v)+len(overrides))
	for k, val := range v {
		out[k] = val
	}
	for k, val := range overrides {
		if !Allowed(k) {
			continue
		}
		if val == "" {
			delete(out, k)
			continue
		}
		out[k] = val
	}
	return out
}

// Pairs returns K=V strings in allowlist order, followed by any other keys sorted.
func (v Var) Pairs() []string {
	out := make([]string, 0, len(v))
	seen := make(map[string]struct{}, len(v))
	for _, k := range Allowlist {
		if val, ok := v[k]; ok {
			out = append(out, k+"="+val)
			seen[k] = struct{}{}
		}
	}
	rest := make([]string, 0)
	for k := range v {
		if _, ok := seen[k]; ok || k == "" {
			continue
		}
		rest = append(rest, k)
	}
	sort.Strings(rest)
	for _, k := range rest {
		out = append(out, k+"="+v[k])
	}
	return out
}

// Redacted renders the pairs with the API key masked, for logs.
func (v Var) Redacted() []string {
	pairs := v.Pairs()
	for i, kv := range pairs {
		if strings.HasPrefix(kv, APIKey+"=") {
			pairs[i] = APIKey + "=***"
		}
	}
	return pairs
}
