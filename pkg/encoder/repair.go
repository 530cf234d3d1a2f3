package encoder

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-air/gini/z"

	"github.com/netverify/cpverify/pkg/solver"
)

// Category is a class of configuration edit.
type Category int

const (
	ACLEdit Category = iota
	StaticEdit
	OSPFExportEdit
	BGPFilterEdit
	RedistributionEdit
	AdjacencyEdit
)

func (c Category) String() string {
	switch c {
	case ACLEdit:
		return "ACL"
	case StaticEdit:
		return "STATIC"
	case OSPFExportEdit:
		return "OSPF-EXPORT"
	case BGPFilterEdit:
		return "BGP-FILTER"
	case RedistributionEdit:
		return "REDISTRIBUTION"
	case AdjacencyEdit:
		return "ADJACENCY"
	}
	panic(fmt.Sprintf("unknown category %d", int(c)))
}

func (c Category) defaultWeight() int {
	switch c {
	case ACLEdit, StaticEdit, OSPFExportEdit, BGPFilterEdit:
		return 1
	case RedistributionEdit:
		return 2
	case AdjacencyEdit:
		return 3
	}
	panic(fmt.Sprintf("unknown category %d", int(c)))
}

// EditKind says whether an edit adds or removes configuration.
type EditKind int

const (
	Add EditKind = iota
	Remove
)

func (k EditKind) String() string {
	if k == Add {
		return "ADD"
	}
	return "REMOVE"
}

// Label is the soft-constraint label of an edit.
func Label(c Category, k EditKind) string {
	switch c {
	case ACLEdit:
		if k == Add {
			return "ACLAdd"
		}
		return "ACLRemove"
	case StaticEdit:
		if k == Add {
			return "StaticAdd"
		}
		return "StaticRemove"
	case OSPFExportEdit:
		if k == Add {
			return "OSPFExportAdd"
		}
		return "OSPFExportRemove"
	case BGPFilterEdit:
		if k == Add {
			return "BGPFilterAdd"
		}
		return "AllowRoute"
	case RedistributionEdit:
		if k == Add {
			return "RedistributionEnable"
		}
		return "RedistributionDisable"
	case AdjacencyEdit:
		return "AdjacencyEnable"
	}
	panic(fmt.Sprintf("unknown category %d", int(c)))
}

// Edit is the pair of variables of one rule. Either side is z.LitNull when
// the edit has not been requested.
type Edit struct {
	Add    z.Lit
	Remove z.Lit
}

type routerEdits struct {
	mu    sync.Mutex
	rules map[Category]map[string]*Edit
}

// Registry records every repair variable, keyed router, category, rule. It
// is shared by all slices of an encoder so that one edit means the same
// thing everywhere. Entries are only ever added.
type Registry struct {
	x       *solver.Context
	weights func(Category) int

	mu      sync.Mutex
	routers map[string]*routerEdits
}

func newRegistry(x *solver.Context, weights func(Category) int) *Registry {
	return &Registry{x: x, weights: weights, routers: map[string]*routerEdits{}}
}

func (r *Registry) router(name string) *routerEdits {
	r.mu.Lock()
	defer r.mu.Unlock()
	re, ok := r.routers[name]
	if !ok {
		re = &routerEdits{rules: map[Category]map[string]*Edit{}}
		r.routers[name] = re
	}
	return re
}

// Variable returns the edit variable of a rule, declaring it and its soft
// constraint on first use.
func (r *Registry) Variable(router string, c Category, rule string, k EditKind) (z.Lit, error) {
	re := r.router(router)
	re.mu.Lock()
	defer re.mu.Unlock()
	if re.rules[c] == nil {
		re.rules[c] = map[string]*Edit{}
	}
	e, ok := re.rules[c][rule]
	if !ok {
		e = &Edit{Add: z.LitNull, Remove: z.LitNull}
		re.rules[c][rule] = e
	}
	slot := &e.Add
	if k == Remove {
		slot = &e.Remove
	}
	if *slot != z.LitNull {
		return *slot, nil
	}
	key := solver.Key{Slice: "repair", Router: router, Protocol: c.String(), Direction: k.String(), Interface: rule, Field: "edit"}
	v, err := r.x.Bool(key)
	if err != nil {
		return z.LitNull, err
	}
	label := Label(c, k)
	r.x.AssertSoft(key.String(), label, solver.Not(v), r.weights(c))
	*slot = v
	return v, nil
}

// Suggestion is one edit chosen by the solver.
type Suggestion struct {
	Router   string
	Category Category
	Rule     string
	Kind     EditKind
	Label    string
}

func (s Suggestion) String() string {
	return fmt.Sprintf("%s: %s %s", s.Router, s.Label, s.Rule)
}

// Suggestions returns the edits applied in a model, sorted by router,
// category and rule.
func (r *Registry) Suggestions(m *solver.Model) []Suggestion {
	r.mu.Lock()
	names := make([]string, 0, len(r.routers))
	for n := range r.routers {
		names = append(names, n)
	}
	r.mu.Unlock()
	sort.Strings(names)

	var out []Suggestion
	for _, name := range names {
		re := r.router(name)
		re.mu.Lock()
		cats := make([]Category, 0, len(re.rules))
		for c := range re.rules {
			cats = append(cats, c)
		}
		sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
		for _, c := range cats {
			rules := make([]string, 0, len(re.rules[c]))
			for rule := range re.rules[c] {
				rules = append(rules, rule)
			}
			sort.Strings(rules)
			for _, rule := range rules {
				e := re.rules[c][rule]
				for _, k := range []EditKind{Add, Remove} {
					v := e.Add
					if k == Remove {
						v = e.Remove
					}
					if v != z.LitNull && m.Value(v) {
						out = append(out, Suggestion{Router: name, Category: c, Rule: rule, Kind: k, Label: Label(c, k)})
					}
				}
			}
		}
		re.mu.Unlock()
	}
	return out
}
