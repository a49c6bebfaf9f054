package nodeid

import (
	"fmt"
	"regexp"
	"strings"
)

// nameRegex restricts names to what HCL block labels commonly carry.
var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// isValidName rejects names that are technically matched but confusing in logs.
func isValidName(name string) bool {
	return name != "-" && !strings.HasPrefix(name, "-")
}

// Parse creates an Address from its canonical string representation.
func Parse(rawID string) (Address, error) {
	if rawID == "" {
		return Address{}, fmt.Errorf("identifier cannot be empty")
	}

	kind, name, ok := strings.Cut(rawID, ".")
	if !ok {
		return Address{}, fmt.Errorf("identifier %q must have the form kind.name", rawID)
	}
	if !Kind(kind).Valid() {
		return Address{}, fmt.Errorf("unknown node kind %q in identifier %q", kind, rawID)
	}
	if !nameRegex.MatchString(name) || !isValidName(name) {
		return Address{}, fmt.Errorf("invalid node name %q in identifier %q", name, rawID)
	}

	return Address{Kind: Kind(kind), Name: name}, nil
}

// MustParse is like Parse but panics on error. Intended for constants and tests.
func MustParse(rawID string) Address {
	addr, err := Parse(rawID)
	if err != nil {
		panic(err)
	}
	return addr
}
