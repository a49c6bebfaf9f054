package runner

import (
	"sort"
	"strings"
)

// Vars maps placeholder names to values. A name "deps" is referenced as
// "{deps}" in command templates.
type Vars map[string]string

func (v Vars) replacer() *strings.Replacer {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", v[k])
	}
	return strings.NewReplacer(pairs...)
}

// Expand substitutes the placeholders in s. Unknown placeholders are kept.
func (v Vars) Expand(s string) string {
	return v.replacer().Replace(s)
}

// ExpandAll substitutes the placeholders in every element of argv.
func (v Vars) ExpandAll(argv []string) []string {
	r := v.replacer()
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = r.Replace(a)
	}
	return out
}

// ExpandMap substitutes the placeholders in every value of m.
func (v Vars) ExpandMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	r := v.replacer()
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = r.Replace(val)
	}
	return out
}
