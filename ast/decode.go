// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package ast

import (
	"encoding/json"
	"fmt"
)

// jsonNode is the wire shape for Node, used by Decode/DecodeDocument. Field
// names are short because this is an internal interchange format, not a
// public API surface; a real parser collaborator is free to build *Node
// trees directly without ever touching JSON.
type jsonNode struct {
	Kind     string      `json:"kind"`
	Bool     bool        `json:"bool,omitempty"`
	Num      string      `json:"num,omitempty"`
	Text     string      `json:"text,omitempty"`
	Children []*jsonNode `json:"children,omitempty"`
	Keys     []string    `json:"keys,omitempty"`
	Name     string      `json:"name,omitempty"`
	Left     *jsonNode   `json:"left,omitempty"`
	Right    *jsonNode   `json:"right,omitempty"`

	Step     string   `json:"step,omitempty"`
	StepName string   `json:"stepName,omitempty"`
	StepKeys []string `json:"stepKeys,omitempty"`
	Index    int      `json:"index,omitempty"`
	Indices  []int    `json:"indices,omitempty"`
	Start    *int     `json:"start,omitempty"`
	End      *int     `json:"end,omitempty"`
	Stride   *int     `json:"stride,omitempty"`
	Cond     *jsonNode `json:"cond,omitempty"`

	IsEnvironment bool             `json:"isEnvironment,omitempty"`
	Entity        *jsonNode        `json:"entity,omitempty"`
	Args          []*jsonNode      `json:"args,omitempty"`
	Opts          *AttributeOpts   `json:"opts,omitempty"`

	Base   *jsonNode `json:"base,omitempty"`
	Filter *jsonNode `json:"filter,omitempty"`

	FilterKind string      `json:"filterKind,omitempty"`
	Rules      []*jsonNode `json:"rules,omitempty"`

	Each     bool      `json:"each,omitempty"`
	Selector *jsonNode `json:"selector,omitempty"`
	Action   *jsonNode `json:"action,omitempty"`
	IsRemove bool      `json:"isRemove,omitempty"`

	Template *jsonNode `json:"template,omitempty"`
}

var nodeKindNames = map[string]NodeKind{
	"null": KindNullLit, "bool": KindBoolLit, "number": KindNumberLit,
	"text": KindTextLit, "array": KindArrayLit, "object": KindObjectLit,
	"variable": KindVariable, "varDef": KindVarDef, "block": KindBlock,
	"where": KindWhere, "add": KindAdd, "sub": KindSub, "mul": KindMul,
	"div": KindDiv, "and": KindAnd, "or": KindOr, "not": KindNot, "neg": KindNeg,
	"lt": KindLt, "le": KindLe, "gt": KindGt, "ge": KindGe, "eq": KindEq,
	"ne": KindNe, "regexMatch": KindRegexMatch, "pathStep": KindPathStep,
	"call": KindCall, "attribute": KindAttribute, "transform": KindTransform,
	"subtemplate": KindSubtemplate, "relativeRef": KindRelativeRef,
	"filterRule": KindFilterRule, "filterSpec": KindFilterSpec,
}

var stepKindNames = map[string]StepKind{
	"key": StepKey, "index": StepIndex, "slice": StepSlice,
	"wildcard": StepWildcard, "recursiveKey": StepRecursiveKey,
	"recursiveWildcard": StepRecursiveWildcard, "recursiveIndex": StepRecursiveIndex,
	"indexUnion": StepIndexUnion,
	"keyUnion": StepKeyUnion, "expr": StepExpr, "condition": StepCondition,
}

var filterKindNames = map[string]FilterKind{
	"functionRef": FilterFunctionRef, "remove": FilterRemove, "ruleList": FilterRuleList,
}

// DecodeExpr parses the JSON encoding of a single expression node.
func DecodeExpr(raw []byte) (*Node, error) {
	var jn jsonNode
	if err := json.Unmarshal(raw, &jn); err != nil {
		return nil, fmt.Errorf("decode expression: %w", err)
	}
	return convert(&jn)
}

func convert(jn *jsonNode) (*Node, error) {
	if jn == nil {
		return nil, nil
	}
	kind, ok := nodeKindNames[jn.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown node kind %q", jn.Kind)
	}
	n := &Node{
		Kind: kind, Bool: jn.Bool, Num: jn.Num, Text: jn.Text,
		Keys: jn.Keys, Name: jn.Name, Step: stepKindFor(jn.Step),
		StepName: jn.StepName, StepKeys: jn.StepKeys, Index: jn.Index,
		Indices: jn.Indices, Start: jn.Start, End: jn.End, Stride: jn.Stride,
		IsEnvironment: jn.IsEnvironment, Opts: jn.Opts,
		FilterKind: filterKindFor(jn.FilterKind), Each: jn.Each, IsRemove: jn.IsRemove,
	}
	var err error
	if n.Children, err = convertAll(jn.Children); err != nil {
		return nil, err
	}
	if n.Left, err = convert(jn.Left); err != nil {
		return nil, err
	}
	if n.Right, err = convert(jn.Right); err != nil {
		return nil, err
	}
	if n.Cond, err = convert(jn.Cond); err != nil {
		return nil, err
	}
	if n.Entity, err = convert(jn.Entity); err != nil {
		return nil, err
	}
	if n.Args, err = convertAll(jn.Args); err != nil {
		return nil, err
	}
	if n.Base, err = convert(jn.Base); err != nil {
		return nil, err
	}
	if n.Filter, err = convert(jn.Filter); err != nil {
		return nil, err
	}
	if n.Rules, err = convertAll(jn.Rules); err != nil {
		return nil, err
	}
	if n.Selector, err = convert(jn.Selector); err != nil {
		return nil, err
	}
	if n.Action, err = convert(jn.Action); err != nil {
		return nil, err
	}
	if n.Template, err = convert(jn.Template); err != nil {
		return nil, err
	}
	return n, nil
}

func convertAll(in []*jsonNode) ([]*Node, error) {
	if in == nil {
		return nil, nil
	}
	out := make([]*Node, len(in))
	for i, c := range in {
		n, err := convert(c)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func stepKindFor(s string) StepKind {
	k, ok := stepKindNames[s]
	if !ok {
		return StepKey
	}
	return k
}

func filterKindFor(s string) FilterKind {
	k, ok := filterKindNames[s]
	if !ok {
		return FilterFunctionRef
	}
	return k
}

// jsonImport/jsonPolicy/jsonPolicySet mirror Import/Policy/PolicySet for
// decoding a document directory entry (see repo.Load).
type jsonImport struct {
	Kind    string `json:"kind"`
	Library string `json:"library"`
	Fn      string `json:"fn,omitempty"`
	Alias   string `json:"alias,omitempty"`
}

var importKindNames = map[string]ImportKind{
	"alias": ImportAlias, "qualified": ImportQualified,
	"wildcard": ImportWildcard, "single": ImportSingle,
}

type jsonDocument struct {
	Type string `json:"type"` // "policy" or "policySet"

	Name        string       `json:"name"`
	Imports     []jsonImport `json:"imports,omitempty"`
	Target      *jsonNode    `json:"target,omitempty"`
	Entitlement string       `json:"entitlement,omitempty"`
	Where       *jsonNode    `json:"where,omitempty"`
	Obligations []*jsonNode  `json:"obligations,omitempty"`
	Advice      []*jsonNode  `json:"advice,omitempty"`
	Transform   *jsonNode    `json:"transform,omitempty"`

	CombiningAlgorithm string           `json:"combiningAlgorithm,omitempty"`
	DefaultVote        string           `json:"defaultVote,omitempty"`
	ErrorsMode         string           `json:"errorsMode,omitempty"`
	Variables          []jsonVarDef     `json:"variables,omitempty"`
	Members            []*jsonDocument  `json:"members,omitempty"`
}

type jsonVarDef struct {
	Name string    `json:"name"`
	Expr *jsonNode `json:"expr"`
}

// DecodeDocument parses the JSON encoding of a policy or policy-set
// document (see SPEC_FULL.md §6).
func DecodeDocument(raw []byte) (Document, error) {
	var jd jsonDocument
	if err := json.Unmarshal(raw, &jd); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return convertDocument(&jd)
}

func convertDocument(jd *jsonDocument) (Document, error) {
	imports := make([]Import, len(jd.Imports))
	for i, ji := range jd.Imports {
		k, ok := importKindNames[ji.Kind]
		if !ok {
			return nil, fmt.Errorf("document %q: unknown import kind %q", jd.Name, ji.Kind)
		}
		imports[i] = Import{Kind: k, Library: ji.Library, Fn: ji.Fn, Alias: ji.Alias}
	}

	switch jd.Type {
	case "policy":
		target, err := convert(jd.Target)
		if err != nil {
			return nil, err
		}
		where, err := convert(jd.Where)
		if err != nil {
			return nil, err
		}
		obligations, err := convertAll(jd.Obligations)
		if err != nil {
			return nil, err
		}
		advice, err := convertAll(jd.Advice)
		if err != nil {
			return nil, err
		}
		transform, err := convert(jd.Transform)
		if err != nil {
			return nil, err
		}
		ent := EntitlementPermit
		if jd.Entitlement == "deny" {
			ent = EntitlementDeny
		}
		return &Policy{
			Name: jd.Name, Imports: imports, Target: target, Entitlement: ent,
			Where: where, Obligations: obligations, Advice: advice, Transform: transform,
		}, nil

	case "policySet":
		target, err := convert(jd.Target)
		if err != nil {
			return nil, err
		}
		alg, ok := ParseAlgorithm(jd.CombiningAlgorithm)
		if !ok {
			alg = AlgDenyOverrides
		}
		dv := DefaultAbstain
		switch jd.DefaultVote {
		case "permit":
			dv = DefaultPermit
		case "deny":
			dv = DefaultDeny
		}
		em := ErrorsPropagate
		if jd.ErrorsMode == "abstain" {
			em = ErrorsAbstain
		}
		vars := make([]VarDef, len(jd.Variables))
		for i, jv := range jd.Variables {
			expr, err := convert(jv.Expr)
			if err != nil {
				return nil, err
			}
			vars[i] = VarDef{Name: jv.Name, Expr: expr}
		}
		members := make([]Member, len(jd.Members))
		for i, jm := range jd.Members {
			m, err := convertDocument(jm)
			if err != nil {
				return nil, err
			}
			members[i] = m
		}
		return &PolicySet{
			Name: jd.Name, Imports: imports, Target: target,
			CombiningAlgorithm: alg, DefaultVote: dv, ErrorsMode: em,
			Variables: vars, Members: members,
		}, nil

	default:
		return nil, fmt.Errorf("document %q: unknown type %q", jd.Name, jd.Type)
	}
}