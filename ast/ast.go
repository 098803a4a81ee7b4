// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

// Package ast defines the parser-collaborator contract: the node kinds a
// parser must produce for the policy compiler (policy package) and
// expression evaluator (eval package) to consume. Grammar/parsing itself is
// out of scope (spec.md §1) — this package only fixes the shape of the
// tree a parser hands to the compiler, plus a concrete JSON encoding of it
// (see DecodeExpr and DecodeDocument) so the module is independently runnable without a real
// parser.
package ast

// NodeKind enumerates every expression-node kind from spec.md §4.4.
type NodeKind int

const (
	KindNullLit NodeKind = iota
	KindBoolLit
	KindNumberLit
	KindTextLit
	KindArrayLit
	KindObjectLit
	KindVariable   // free identifier reference
	KindVarDef     // `var name = expr;`
	KindBlock      // sequence of var-defs / statements
	KindWhere      // where-body: sequence of boolean statements
	KindAdd        // +
	KindSub        // -
	KindMul        // *
	KindDiv        // /
	KindAnd        // &&
	KindOr         // ||
	KindNot        // !
	KindNeg        // unary -
	KindLt         // <
	KindLe         // <=
	KindGt         // >
	KindGe         // >=
	KindEq         // ==
	KindNe         // !=
	KindRegexMatch // =~
	KindPathStep   // base . step, see Step
	KindCall       // function call
	KindAttribute  // attribute finder reference: entity.<name(args)[opts]> or <name(args)[opts]>
	KindTransform  // base |- filterSpec
	KindSubtemplate // baseArray :: template
	KindRelativeRef // @
	KindFilterRule  // single rule inside a braced filter spec: selector : action
	KindFilterSpec  // braced list of KindFilterRule, or a bare function-ref, or "remove"
)

// StepKind enumerates the path-navigation step kinds.
type StepKind int

const (
	StepKey StepKind = iota
	StepIndex
	StepSlice
	StepWildcard
	StepRecursiveKey
	StepRecursiveWildcard
	StepRecursiveIndex
	StepIndexUnion
	StepKeyUnion
	StepExpr      // [(expr)]
	StepCondition // [?(expr)]
)

// Node is a single expression-tree node. Not every field is meaningful for
// every Kind; see the per-kind comment. Node is intentionally a flat struct
// (rather than an interface hierarchy) — spec.md §9 calls for "tagged
// variants... match exhaustively", which a flat struct with a Kind
// discriminant does without per-kind boxing.
type Node struct {
	Kind NodeKind

	// Literals.
	Bool bool
	Num  string // decimal literal text, parsed via value.NumFromString
	Text string

	// KindArrayLit / KindObjectLit / KindBlock / KindWhere / KindCall args /
	// KindFilterSpec rule list.
	Children []*Node

	// KindObjectLit keys (parallel to Children).
	Keys []string

	// KindVariable / KindVarDef name; KindCall function name; KindAttribute
	// finder name.
	Name string

	// Binary/unary operators and KindPathStep: operands.
	Left, Right *Node

	// KindPathStep.
	Step     StepKind
	StepName string  // StepKey / StepRecursiveKey
	StepKeys []string // StepKeyUnion
	Index    int       // StepIndex / StepRecursiveIndex
	Indices  []int     // StepIndexUnion
	Start, End, Stride *int // StepSlice, nil means "use default"
	Cond     *Node // StepExpr, StepCondition, KindFilterRule selector condition hook

	// KindAttribute.
	IsEnvironment bool  // true for <name(args)[opts]>, false for entity.<name(...)>
	Entity        *Node // base expression, nil when IsEnvironment
	Args          []*Node
	Opts          *AttributeOpts

	// KindTransform.
	Base   *Node
	Filter *Node // KindFilterSpec

	// KindFilterSpec.
	FilterKind FilterKind
	Rules      []*Node // KindFilterRule

	// KindFilterRule.
	Each     bool
	Selector *Node // path rooted at @
	Action   *Node // KindCall, or nil+IsRemove
	IsRemove bool

	// KindSubtemplate.
	Template *Node
}

// FilterKind discriminates the three forms of filter specification.
type FilterKind int

const (
	FilterFunctionRef FilterKind = iota
	FilterRemove
	FilterRuleList
)

// AttributeOpts carries the `[opts]` suffix of an attribute-finder
// reference: timing parameters and the fresh flag (spec.md §4.3).
type AttributeOpts struct {
	Fresh          bool
	InitialTimeout *int64 // milliseconds; nil means "use PDP default"
	PollInterval   *int64
	Backoff        *int64
	Retries        *int
}

// Entitlement is the effect a Policy grants when its target and body are
// applicable and decisive.
type Entitlement int

const (
	EntitlementPermit Entitlement = iota
	EntitlementDeny
)

func (e Entitlement) String() string {
	if e == EntitlementDeny {
		return "deny"
	}
	return "permit"
}

// Import describes one `import` clause in a document's header.
type ImportKind int

const (
	ImportAlias    ImportKind = iota // import lib as alias
	ImportQualified                  // no import statement needed; lib.fn used directly
	ImportWildcard                   // import lib.*
	ImportSingle                     // import lib.fn
)

type Import struct {
	Kind    ImportKind
	Library string
	Fn      string // ImportSingle only
	Alias   string // ImportAlias only
}

// Policy is a parsed policy document.
type Policy struct {
	Name        string
	Imports     []Import
	Target      *Node // nil means "always applicable" (Const(true))
	Entitlement Entitlement
	Where       *Node // KindWhere, nil means no body (always decisive true)
	Obligations []*Node
	Advice      []*Node
	Transform   *Node // resource-valued expression, nil means no transform
}

// VarDef is one entry of a PolicySet's variable-definition block.
type VarDef struct {
	Name string
	Expr *Node
}

// ErrorsMode controls how a combined vote's final INDETERMINATE is treated.
type ErrorsMode int

const (
	ErrorsPropagate ErrorsMode = iota
	ErrorsAbstain
)

// DefaultVote names the combined vote used when every member evaluates to
// NOT_APPLICABLE.
type DefaultVote int

const (
	DefaultAbstain DefaultVote = iota
	DefaultPermit
	DefaultDeny
)

// Algorithm names one of the eight combining algorithms of spec.md §4.7.
type Algorithm int

const (
	AlgDenyOverrides Algorithm = iota
	AlgPermitOverrides
	AlgFirstApplicable
	AlgOnlyOneApplicable
	AlgDenyUnlessPermit
	AlgPermitUnlessDeny
	AlgUnanimous
	AlgUnanimousStrict
	AlgUnique
)

func (a Algorithm) String() string {
	switch a {
	case AlgDenyOverrides:
		return "deny-overrides"
	case AlgPermitOverrides:
		return "permit-overrides"
	case AlgFirstApplicable:
		return "first-applicable"
	case AlgOnlyOneApplicable:
		return "only-one-applicable"
	case AlgDenyUnlessPermit:
		return "deny-unless-permit"
	case AlgPermitUnlessDeny:
		return "permit-unless-deny"
	case AlgUnanimous:
		return "unanimous"
	case AlgUnanimousStrict:
		return "unanimous-strict"
	case AlgUnique:
		return "unique"
	default:
		return "unknown"
	}
}

// ParseAlgorithm maps a document's declared combining-algorithm name to an
// Algorithm constant.
func ParseAlgorithm(name string) (Algorithm, bool) {
	switch name {
	case "deny-overrides":
		return AlgDenyOverrides, true
	case "permit-overrides":
		return AlgPermitOverrides, true
	case "first-applicable":
		return AlgFirstApplicable, true
	case "only-one-applicable":
		return AlgOnlyOneApplicable, true
	case "deny-unless-permit":
		return AlgDenyUnlessPermit, true
	case "permit-unless-deny":
		return AlgPermitUnlessDeny, true
	case "unanimous":
		return AlgUnanimous, true
	case "unanimous-strict":
		return AlgUnanimousStrict, true
	case "unique":
		return AlgUnique, true
	default:
		return 0, false
	}
}

// Member is either *Policy or *PolicySet.
type Member interface {
	DocumentName() string
}

func (p *Policy) DocumentName() string    { return p.Name }
func (p *PolicySet) DocumentName() string { return p.Name }

// PolicySet is a parsed policy-set document.
type PolicySet struct {
	Name               string
	Imports            []Import
	Target             *Node
	CombiningAlgorithm Algorithm
	DefaultVote        DefaultVote
	ErrorsMode         ErrorsMode
	Variables          []VarDef
	Members            []Member
}

// Document is either *Policy or *PolicySet, the unit the policy repository
// collaborator (out of scope, see repo package for the reference
// filesystem-backed stand-in) hands to the compiler.
type Document = Member