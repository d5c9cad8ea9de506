package repoconfig

import (
	"reflect"
	"sort"
	"strings"
)

// OpKind is the kind of change an Op describes.
type OpKind int

const (
	OpAdd OpKind = iota + 1
	OpDelete
	OpUpdate
)

func (k OpKind) String() string {
	switch k {
	case OpAdd:
		return "add"
	case OpDelete:
		return "delete"
	case OpUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Op is one change at Path. Value is nil for deletes.
type Op struct {
	Kind  OpKind
	Path  []string
	Value any
}

// String renders the op as "kind a.b.c".
func (o Op) String() string {
	return o.Kind.String() + " " + strings.Join(o.Path, ".")
}

// Diff returns the operations that turn base into target, in pre-order
// depth-first order with sibling keys sorted. Nested maps present on both
// sides are descended into; any other difference is a single op on the
// differing node.
func Diff(base, target *Config) []Op {
	return diffTrees(base.tree(), target.tree())
}

// diffItem is one key under comparison.
type diffItem struct {
	path      []string
	base      any
	target    any
	hasBase   bool
	hasTarget bool
}

func diffTrees(base, target map[string]any) []Op {
	var ops []Op
	stack := pushChildren(nil, nil, base, target)

	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch {
		case !item.hasBase:
			ops = append(ops, Op{Kind: OpAdd, Path: item.path, Value: item.target})
		case !item.hasTarget:
			ops = append(ops, Op{Kind: OpDelete, Path: item.path})
		default:
			baseMap, baseIsMap := item.base.(map[string]any)
			targetMap, targetIsMap := item.target.(map[string]any)
			if baseIsMap && targetIsMap {
				stack = pushChildren(stack, item.path, baseMap, targetMap)
				continue
			}
			if !reflect.DeepEqual(item.base, item.target) {
				ops = append(ops, Op{Kind: OpUpdate, Path: item.path, Value: item.target})
			}
		}
	}
	return ops
}

// pushChildren pushes one item per key of base ∪ target. Keys are pushed in
// reverse order so the smallest key is popped first.
func pushChildren(stack []diffItem, parent []string, base, target map[string]any) []diffItem {
	keys := make([]string, 0, len(base)+len(target))
	for key := range base {
		keys = append(keys, key)
	}
	for key := range target {
		if _, ok := base[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	for _, key := range keys {
		path := make([]string, len(parent)+1)
		copy(path, parent)
		path[len(parent)] = key

		baseValue, hasBase := base[key]
		targetValue, hasTarget := target[key]
		stack = append(stack, diffItem{
			path:      path,
			base:      baseValue,
			target:    targetValue,
			hasBase:   hasBase,
			hasTarget: hasTarget,
		})
	}
	return stack
}
