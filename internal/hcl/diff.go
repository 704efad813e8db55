package hcl

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/infraweave-io/infraweave/internal/model"
)

// CanonicalTree folds every *.tf file's variable/output/provider
// declarations into one deterministic JSON-shaped tree so two archives can
// be diffed structurally (§4.2.1). The tree has three top-level keys —
// "variable", "output", "provider" — each mapping declaration name to its
// attributes.
func CanonicalTree(def *ModuleDef) map[string]any {
	variables := make(map[string]any, len(def.Variables))
	for _, v := range def.Variables {
		entry := map[string]any{
			"type":     v.Type,
			"nullable": v.Nullable,
			"sensitive": v.Sensitive,
		}
		if v.HasDefault {
			entry["default"] = v.Default
		}
		if v.Description != "" {
			entry["description"] = v.Description
		}
		variables[v.Name] = entry
	}

	outputs := make(map[string]any, len(def.Outputs))
	for _, o := range def.Outputs {
		entry := map[string]any{"value": o.Value, "sensitive": o.Sensitive}
		if o.Description != "" {
			entry["description"] = o.Description
		}
		outputs[o.Name] = entry
	}

	providers := make(map[string]any, len(def.Providers))
	for _, p := range def.Providers {
		providers[p.Name] = map[string]any{"source": p.Source, "version": p.Version}
	}

	return map[string]any{
		"variable": variables,
		"output":   outputs,
		"provider": providers,
	}
}

// Diff walks two canonical trees and produces the added/changed/removed
// path lists spec.md §4.2.1 describes: "An added object is flattened one
// level: each of its immediate children becomes a distinct addition.
// Changes compare leaves (including arrays) by structural equality."
func Diff(oldTree, newTree map[string]any) *model.VersionDiff {
	d := &model.VersionDiff{}
	walk("", anyMap(oldTree), anyMap(newTree), d)
	sort.Slice(d.Added, func(i, j int) bool { return d.Added[i].Path < d.Added[j].Path })
	sort.Slice(d.Changed, func(i, j int) bool { return d.Changed[i].Path < d.Changed[j].Path })
	sort.Slice(d.Removed, func(i, j int) bool { return d.Removed[i].Path < d.Removed[j].Path })
	return d
}

func anyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func walk(prefix string, oldNode, newNode map[string]any, d *model.VersionDiff) {
	keys := make(map[string]bool, len(oldNode)+len(newNode))
	for k := range oldNode {
		keys[k] = true
	}
	for k := range newNode {
		keys[k] = true
	}

	for key := range keys {
		path := joinPath(prefix, key)
		oldVal, hadOld := oldNode[key]
		newVal, hasNew := newNode[key]

		switch {
		case !hadOld && hasNew:
			flattenAddition(path, newVal, d)
		case hadOld && !hasNew:
			d.Removed = append(d.Removed, model.PathValue{Path: path, Value: oldVal})
		default:
			oldChild, oldIsMap := oldVal.(map[string]any)
			newChild, newIsMap := newVal.(map[string]any)
			if oldIsMap && newIsMap {
				walk(path, oldChild, newChild, d)
				continue
			}
			if !reflect.DeepEqual(oldVal, newVal) {
				d.Changed = append(d.Changed, model.PathValue{Path: path, Value: newVal})
			}
		}
	}
}

// flattenAddition implements "an added object is flattened one level: each
// of its immediate children becomes a distinct addition" — a brand new
// "variable" map, say, reports one Added entry per variable name rather
// than one entry for the whole map.
func flattenAddition(path string, val any, d *model.VersionDiff) {
	if m, ok := val.(map[string]any); ok {
		for k, v := range m {
			d.Added = append(d.Added, model.PathValue{Path: joinPath(path, k), Value: v})
		}
		return
	}
	d.Added = append(d.Added, model.PathValue{Path: path, Value: val})
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return fmt.Sprintf("%s/%s", prefix, key)
}
