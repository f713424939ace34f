package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env composes child process environments. Base is the launcher's OS
// environment when UseOS is set, otherwise empty; globals apply next and
// per-process entries last.
type Env struct {
	UseOS bool
	Var   Var // global variables (K->V)
	base  Var
}

func New(useOS bool) *Env {
	return &Env{UseOS: useOS, Var: make(Var)}
}

// Set sets a global variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// SetAll applies "K=V" entries; malformed entries are skipped.
func (e *Env) SetAll(kvs []string) {
	for _, kv := range kvs {
		if k, v, ok := split(kv); ok {
			e.Set(k, v)
		}
	}
}

func (e *Env) osBase() Var {
	if e.base == nil {
		e.base = make(Var)
		for _, kv := range os.Environ() {
			if k, v, ok := split(kv); ok {
				e.base[k] = v
			}
		}
	}
	return e.base
}

// Merge returns the sorted "K=V" list for a process with perProc overrides.
// ${VAR} references are expanded once against the composed map.
func (e *Env) Merge(perProc []string) []string {
	m := make(Var)
	if e.UseOS {
		for k, v := range e.osBase() {
			m[k] = v
		}
	}
	for k, v := range e.Var {
		if k != "" {
			m[k] = v
		}
	}
	for _, kv := range perProc {
		if k, v, ok := split(kv); ok {
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

func split(kv string) (string, string, bool) {
	k, v, ok := strings.Cut(kv, "=")
	if !ok || k == "" {
		return "", "", false
	}
	return k, v, true
}

// expand replaces ${NAME} with its value from m; unknown names are left as is.
func expand(s string, m Var) string {
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			b.WriteString(s)
			return b.String()
		}
		name := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if v, ok := m[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
}
