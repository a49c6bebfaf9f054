package stage

import "fmt"

// Policy decides whether production stages wait for their test stage.
type Policy string

const (
	// Independent builds test and production branches as siblings. A
	// production artifact is built even when the test branch fails or was not
	// requested; promotion must be checked separately.
	Independent Policy = "independent"
	// Strict makes every production stage depend on the test stage it
	// requires, so a rejected gate skips the production branch.
	Strict Policy = "strict"
)

// ParsePolicy validates a policy name. Empty means Independent.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", Independent:
		return Independent, nil
	case Strict:
		return Strict, nil
	}
	return "", fmt.Errorf("unknown gate policy %q (expected %q or %q)", s, Independent, Strict)
}
