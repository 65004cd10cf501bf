// Package fielddata implements the layered field-data stack a bound block
// reads and writes through: date substitution, override providers, student
// state, and the read-only authored base.
package fielddata

// Env is the per-request environment the stack consults. It is owned by one
// request and never shared across goroutines, so the overrides-disabled
// flag needs no synchronization and cannot leak between requests.
type Env struct {
	overridesDisabled int
}

func NewEnv() *Env { return &Env{} }

// DisableOverrides runs fn with the override layer skipped. Calls nest.
func (e *Env) DisableOverrides(fn func() error) error {
	e.overridesDisabled++
	defer func() { e.overridesDisabled-- }()
	return fn()
}

func (e *Env) OverridesDisabled() bool {
	return e.overridesDisabled > 0
}
