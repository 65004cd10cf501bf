package block

import "fmt"

// Scope classifies where a field's value lives and which identity axis it
// varies over.
type Scope int

const (
	ScopeContent Scope = iota
	ScopeSettings
	ScopeUserState
	ScopeUserStateSummary
	ScopeUserInfo
	ScopePreferences
)

func (s Scope) String() string {
	switch s {
	case ScopeContent:
		return "content"
	case ScopeSettings:
		return "settings"
	case ScopeUserState:
		return "user_state"
	case ScopeUserStateSummary:
		return "user_state_summary"
	case ScopeUserInfo:
		return "user_info"
	case ScopePreferences:
		return "preferences"
	}
	return fmt.Sprintf("scope(%d)", int(s))
}

// Authored scopes are shared by all viewers and read-only at runtime.
func (s Scope) Authored() bool {
	return s == ScopeContent || s == ScopeSettings
}

// PerUser scopes vary by the bound user.
func (s Scope) PerUser() bool {
	return s == ScopeUserState || s == ScopeUserInfo || s == ScopePreferences
}

// FieldDef declares one field of a block type.
type FieldDef struct {
	Name  string
	Scope Scope
	// Inheritable fields (start dates, visibility) resolve through the
	// ancestor chain when unset on the block itself.
	Inheritable bool
	// Date fields are eligible for per-user date substitution.
	IsDate  bool
	Default any
}
