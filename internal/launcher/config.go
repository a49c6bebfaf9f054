package launcher

import (
	"strconv"
	"time"

	"github.com/specialistvlad/stagegate/internal/model"
)

// LookupFunc resolves a variable from the launching environment.
type LookupFunc func(key string) (string, bool)

// Var is a recognized runtime configuration key.
type Var struct {
	Name      string
	Fallback  string
	Sensitive bool
}

// Config is the explicit runtime configuration of a production stage. The
// process inherits the launching environment; Vars and Env are the keys that
// are resolved and set explicitly on top of it.
type Config struct {
	Stage       string
	Command     []string
	EntryPoint  string
	Host        string
	Port        int
	Env         map[string]string
	Vars        []Var
	GracePeriod time.Duration
}

// FromStage builds the runtime configuration of a production stage.
func FromStage(s *model.Stage) Config {
	l := s.Launch
	c := Config{
		Stage:       s.Name,
		Command:     append([]string(nil), l.Command...),
		EntryPoint:  l.EntryPoint,
		Host:        l.Host,
		Port:        l.Port,
		Env:         l.Env,
		GracePeriod: l.GracePeriod,
	}
	for _, v := range l.Vars {
		c.Vars = append(c.Vars, Var{Name: v.Name, Fallback: v.Fallback, Sensitive: v.Sensitive})
	}
	return c
}

// DefaultConfig is the configuration of the built-in production stage.
func DefaultConfig() Config {
	s := &model.Stage{Name: "prod", Launch: &model.Launch{}}
	s.ApplyDefaults()
	return FromStage(s)
}

// Resolved is the concrete environment handed to the process.
type Resolved struct {
	Env map[string]string
	// Defaulted lists the vars that took their fallback value.
	Defaulted []string
}

// Resolve looks every var up and falls back when it is unset or empty.
func (c Config) Resolve(lookup LookupFunc) Resolved {
	vars := make([]*model.Var, len(c.Vars))
	for i, v := range c.Vars {
		vars[i] = &model.Var{Name: v.Name, Fallback: v.Fallback, Sensitive: v.Sensitive}
	}
	env, defaulted := model.ResolveVars(vars, lookup)
	return Resolved{Env: env, Defaulted: defaulted}
}

// Redacted returns env with sensitive values masked, for logs.
func (c Config) Redacted(env map[string]string) map[string]string {
	sensitive := map[string]bool{}
	for _, v := range c.Vars {
		sensitive[v.Name] = v.Sensitive
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		if sensitive[k] {
			v = "***"
		}
		out[k] = v
	}
	return out
}

// Address is host:port.
func (c Config) Address() string {
	return joinHostPort(c.Host, c.Port)
}

func (c Config) placeholders() map[string]string {
	return map[string]string{
		"entrypoint": c.EntryPoint,
		"host":       c.Host,
		"port":       strconv.Itoa(c.Port),
	}
}
