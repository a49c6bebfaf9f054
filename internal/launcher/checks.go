package launcher

import (
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/specialistvlad/stagegate/internal/failure"
	"github.com/specialistvlad/stagegate/internal/model"
)

// CheckEntryPoint verifies that "module.path:attribute" resolves inside
// workdir: the module is a file or a package, and the attribute is bound at
// its top level by an assignment, def, class or import.
func CheckEntryPoint(workdir, entryPoint string) error {
	module, attr, err := model.SplitEntryPoint(entryPoint)
	if err != nil {
		return failure.New(failure.LaunchFailure, "entry point", err)
	}

	base := filepath.Join(append([]string{workdir}, strings.Split(module, ".")...)...)
	var src []byte
	for _, candidate := range []string{base + ".py", filepath.Join(base, "__init__.py")} {
		if src, err = os.ReadFile(candidate); err == nil {
			break
		}
	}
	if err != nil {
		return failure.Newf(failure.LaunchFailure, "entry point", "module %s not found in %s", module, workdir)
	}

	if !bindingRe(attr).Match(src) {
		return failure.Newf(failure.LaunchFailure, "entry point", "module %s does not define %q", module, attr)
	}
	return nil
}

func bindingRe(attr string) *regexp.Regexp {
	a := regexp.QuoteMeta(attr)
	return regexp.MustCompile(`(?m)^(?:` +
		a + `\s*(?::[^=\n]*)?=[^=]` + // app = ... / app: T = ...
		`|(?:async\s+)?def\s+` + a + `\b` +
		`|class\s+` + a + `\b` +
		`|from\s+\S+\s+import\s+(?:.*,\s*)?` + a + `\s*(?:,|$)` +
		`|(?:from\s+\S+\s+)?import\s+.*\bas\s+` + a + `\b` +
		`)`)
}

// CheckPort binds host:port and releases it. Launch never falls back to a
// different port.
func CheckPort(host string, port int) error {
	ln, err := net.Listen("tcp", joinHostPort(host, port))
	if err != nil {
		return failure.Newf(failure.LaunchFailure, "bind", "port %d on %s is unavailable: %v", port, displayHost(host), err)
	}
	return ln.Close()
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func displayHost(host string) string {
	if host == "" {
		return "all interfaces"
	}
	return host
}
