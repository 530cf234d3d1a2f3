package encoder

import (
	"regexp"
	"sort"
	"strings"

	"github.com/netverify/cpverify/pkg/network"
)

// communityGraph relates the community expressions used by policies. Only
// concrete communities are tracked on records; a regular expression stands
// for the disjunction of the concrete communities it matches.
type communityGraph struct {
	concrete []string
	// deps maps each regular expression to the concrete communities it
	// matches, sorted.
	deps map[string][]string
}

func isCommunityRegex(c string) bool {
	return strings.ContainsAny(c, `^$*+?[](){}|\.`)
}

func newCommunityGraph(n *network.Network) *communityGraph {
	concrete := map[string]struct{}{}
	regexes := map[string]struct{}{}
	note := func(c string) {
		if isCommunityRegex(c) {
			regexes[c] = struct{}{}
			return
		}
		concrete[c] = struct{}{}
	}
	for _, r := range n.Routers {
		for _, p := range r.Policies {
			for _, st := range p.Statements {
				for _, c := range st.Match.Communities {
					note(c)
				}
				for _, c := range st.Set.AddCommunities {
					note(c)
				}
				for _, c := range st.Set.DeleteCommunities {
					note(c)
				}
			}
		}
	}

	g := &communityGraph{deps: map[string][]string{}}
	for c := range concrete {
		g.concrete = append(g.concrete, c)
	}
	sort.Strings(g.concrete)
	for re := range regexes {
		// Invalid expressions match nothing; validation reports them.
		rx, err := regexp.Compile(re)
		if err != nil {
			g.deps[re] = nil
			continue
		}
		var matches []string
		for _, c := range g.concrete {
			if rx.MatchString(c) {
				matches = append(matches, c)
			}
		}
		g.deps[re] = matches
	}
	return g
}

// expand returns the concrete communities an expression refers to.
func (g *communityGraph) expand(c string) []string {
	if deps, ok := g.deps[c]; ok {
		return deps
	}
	return []string{c}
}
