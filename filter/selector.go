// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package filter

import "github.com/saplcore/pdp/value"

// pathSeg identifies one hop from a parent value down to a child: either an
// object key or an array index.
type pathSeg struct {
	isKey bool
	key   string
	index int
}

type candidate struct {
	v    value.Value
	path []pathSeg
}

// resolveSelector walks doc through each Step in turn, fanning out into
// multiple candidates at wildcard/union/recursive steps, and returns one
// match per surviving candidate with a rebuild path back to the root.
func resolveSelector(doc value.Value, steps []Step) []match {
	candidates := []candidate{{v: doc}}
	for _, st := range steps {
		var next []candidate
		for _, c := range candidates {
			next = append(next, expandStep(c, st)...)
		}
		candidates = next
	}
	out := make([]match, len(candidates))
	for i, c := range candidates {
		path := c.path
		out[i] = match{
			value: c.v,
			depth: len(path),
			set: func(doc, replacement value.Value) value.Value {
				return setAtPath(doc, path, replacement)
			},
		}
	}
	return out
}

func expandStep(c candidate, st Step) []candidate {
	switch {
	case st.Wildcard && st.Recursive:
		return recursiveCandidates(c, "")
	case st.Recursive:
		return recursiveCandidates(c, st.Key)
	case st.Wildcard:
		return wildcardCandidates(c)
	case len(st.Keys) > 0:
		return keyUnionCandidates(c, st.Keys)
	case len(st.Indices) > 0:
		return indexUnionCandidates(c, st.Indices)
	case st.Key != "":
		return keyCandidates(c, st.Key)
	default:
		return indexCandidates(c, st.Index)
	}
}

func keyCandidates(c candidate, key string) []candidate {
	obj, ok := c.v.AsObject()
	if !ok {
		return nil
	}
	v, ok := obj.Get(key)
	if !ok {
		return nil
	}
	return []candidate{{v: v, path: appendSeg(c.path, pathSeg{isKey: true, key: key})}}
}

func indexCandidates(c candidate, idx int) []candidate {
	arr, ok := c.v.AsArray()
	if !ok {
		return nil
	}
	i := idx
	if i < 0 {
		i += len(arr)
	}
	if i < 0 || i >= len(arr) {
		return nil
	}
	return []candidate{{v: arr[i], path: appendSeg(c.path, pathSeg{index: i})}}
}

func keyUnionCandidates(c candidate, keys []string) []candidate {
	obj, ok := c.v.AsObject()
	if !ok {
		return nil
	}
	var out []candidate
	for _, k := range keys {
		if v, ok := obj.Get(k); ok {
			out = append(out, candidate{v: v, path: appendSeg(c.path, pathSeg{isKey: true, key: k})})
		}
	}
	return out
}

func indexUnionCandidates(c candidate, indices []int) []candidate {
	arr, ok := c.v.AsArray()
	if !ok {
		return nil
	}
	var out []candidate
	for _, idx := range indices {
		i := idx
		if i < 0 {
			i += len(arr)
		}
		if i >= 0 && i < len(arr) {
			out = append(out, candidate{v: arr[i], path: appendSeg(c.path, pathSeg{index: i})})
		}
	}
	return out
}

func wildcardCandidates(c candidate) []candidate {
	if obj, ok := c.v.AsObject(); ok {
		var out []candidate
		for _, k := range obj.Keys() {
			v, _ := obj.Get(k)
			out = append(out, candidate{v: v, path: appendSeg(c.path, pathSeg{isKey: true, key: k})})
		}
		return out
	}
	if arr, ok := c.v.AsArray(); ok {
		out := make([]candidate, len(arr))
		for i, v := range arr {
			out[i] = candidate{v: v, path: appendSeg(c.path, pathSeg{index: i})}
		}
		return out
	}
	return nil
}

// recursiveCandidates collects every descendant of c.v (key optionally
// restricting to a matching object key; empty key means every node) at any
// depth, depth-first, each with its own rebuild path.
func recursiveCandidates(c candidate, key string) []candidate {
	var out []candidate
	var walk func(cur candidate)
	walk = func(cur candidate) {
		if obj, ok := cur.v.AsObject(); ok {
			for _, k := range obj.Keys() {
				v, _ := obj.Get(k)
				child := candidate{v: v, path: appendSeg(cur.path, pathSeg{isKey: true, key: k})}
				if key == "" || k == key {
					out = append(out, child)
				}
				walk(child)
			}
			return
		}
		if arr, ok := cur.v.AsArray(); ok {
			for i, v := range arr {
				child := candidate{v: v, path: appendSeg(cur.path, pathSeg{index: i})}
				if key == "" {
					out = append(out, child)
				}
				walk(child)
			}
		}
	}
	walk(c)
	return out
}

func appendSeg(path []pathSeg, seg pathSeg) []pathSeg {
	out := make([]pathSeg, len(path)+1)
	copy(out, path)
	out[len(path)] = seg
	return out
}

// setAtPath rebuilds doc with the node at path replaced by replacement,
// copying only the spine from root to that node. replacement ==
// value.Undefined() removes the node (deletes the object key / drops the
// array element) instead of storing an Undefined in its place.
func setAtPath(doc value.Value, path []pathSeg, replacement value.Value) value.Value {
	if len(path) == 0 {
		return replacement
	}
	seg := path[0]
	rest := path[1:]

	if seg.isKey {
		obj, ok := doc.AsObject()
		if !ok {
			return doc
		}
		child, _ := obj.Get(seg.key)
		newObj := obj.Clone()
		if len(rest) == 0 && replacement.IsUndefined() {
			newObj.Delete(seg.key)
		} else {
			newObj.Set(seg.key, setAtPath(child, rest, replacement))
		}
		return value.ObjectVal(newObj)
	}

	arr, ok := doc.AsArray()
	if !ok {
		return doc
	}
	out := append([]value.Value(nil), arr...)
	if len(rest) == 0 && replacement.IsUndefined() {
		out = append(out[:seg.index], out[seg.index+1:]...)
		return value.ArrayFromSlice(out)
	}
	out[seg.index] = setAtPath(arr[seg.index], rest, replacement)
	return value.ArrayFromSlice(out)
}