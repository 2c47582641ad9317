package domain

// ScoreRule is an operator-defined extension to the fixed heuristic
// scorer. The CEL expression is evaluated against the flat transaction
// view; when it yields true, Points (capped at MaxPoints) are added to
// the risk score before the final clamp. Extension rules never override
// an explicit upstream verdict.
type ScoreRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// Expression is a CEL expression that must evaluate to bool.
	Expression string `json:"expression"`

	// Points added to the risk score when the expression is true.
	Points int `json:"points"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// MaxRulePoints caps a single extension rule's contribution.
const MaxRulePoints = 25
