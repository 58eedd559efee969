package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env composes the child process environment: the OS environment as a base,
// then derived variables (the manager's DB/port contract), then per-config
// extras. Later layers win on key collisions.
type Env struct {
	Var Var // derived variables (K->V)
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			if k == "" {
				continue
			}
			base[k] = kv[i+1:]
		}
	}
	e.env = base
}

// Set sets a derived variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Merge composes the final environment list: base = OS env (or cached),
// then derived e.Var overrides, then extras ("K=V" form) last. The result
// is sorted for deterministic comparison in tests.
func (e *Env) Merge(extras []string) []string {
	if e.env == nil {
		e.FromOS()
	}
	m := make(Var, len(e.env)+len(e.Var)+len(extras))
	for k, v := range e.env {
		m[k] = v
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for _, kv := range extras {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			if k == "" { // skip malformed entries with empty key
				continue
			}
			m[k] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
