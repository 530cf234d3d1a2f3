package encoder

import (
	"fmt"
	"sort"

	"github.com/go-air/gini/z"

	"github.com/netverify/cpverify/pkg/solver"
)

// Field enumerates the integer attributes a route record may carry.
type Field int

const (
	PrefixLength Field = iota
	AdminDistance
	LocalPref
	Metric
	Med
	OspfType
	BgpInternal
	IgpMetric
	RouterID
	ClientID
	OspfArea
	History
	numFields
)

var fieldNames = [numFields]string{
	PrefixLength:  "prefixLength",
	AdminDistance: "adminDist",
	LocalPref:     "localPref",
	Metric:        "metric",
	Med:           "med",
	OspfType:      "ospfType",
	BgpInternal:   "bgpInternal",
	IgpMetric:     "igpMetric",
	RouterID:      "routerID",
	ClientID:      "clientID",
	OspfArea:      "ospfArea",
	History:       "history",
}

func (f Field) String() string {
	if f < 0 || f >= numFields {
		panic(fmt.Sprintf("unknown field %d", int(f)))
	}
	return fieldNames[f]
}

// relevantTo reports whether a protocol's records can carry the field at
// all. Best carries the union.
func (f Field) relevantTo(p Protocol) bool {
	switch f {
	case PrefixLength, AdminDistance, History:
		return true
	case Metric, OspfType, OspfArea:
		return p == OSPF || p == BGP || p == Best
	case LocalPref, Med, BgpInternal, IgpMetric, RouterID, ClientID:
		return p == BGP || p == Best
	}
	panic(fmt.Sprintf("unknown field %d", int(f)))
}

// Attr is an attribute slot that is either present with a term or omitted,
// in which case readers substitute the record's default.
type Attr struct {
	term    solver.BitVec
	present bool
}

// Present wraps a term.
func Present(v solver.BitVec) Attr {
	return Attr{term: v, present: true}
}

// Omitted is the empty slot.
var Omitted = Attr{}

// Get returns the term and whether the slot is present.
func (a Attr) Get() (solver.BitVec, bool) {
	return a.term, a.present
}

// Shape says which slots of a record are fresh variables.
type Shape int

const (
	// Full records have a fresh variable for every kept attribute.
	Full Shape = iota
	// PermittedOnly records have a fresh permitted flag; their other
	// attributes are derived terms or defaults.
	PermittedOnly
	// Merged records have a fresh permitted flag and take the attributes
	// of the neighbour's export record while permitted.
	Merged
)

// RouteRecord is the symbolic description of one candidate or selected
// route at a router, for one slice.
type RouteRecord struct {
	Key       solver.Key
	Protocol  Protocol
	Shape     Shape
	Permitted z.Lit

	attrs [numFields]Attr
	// communities are keyed by concrete community value.
	communities map[string]z.Lit
	// internal selects the iBGP administrative distance default.
	internal bool
}

// Attr returns the slot for f.
func (r *RouteRecord) Attr(f Field) Attr {
	return r.attrs[f]
}

// Set replaces the slot for f with a derived term.
func (r *RouteRecord) Set(f Field, v solver.BitVec) {
	r.attrs[f] = Present(v)
}

// Community returns the flag for a concrete community, and whether the
// record tracks it.
func (r *RouteRecord) Community(c string) (z.Lit, bool) {
	l, ok := r.communities[c]
	return l, ok
}

// Communities returns the tracked concrete communities, sorted.
func (r *RouteRecord) Communities() []string {
	out := make([]string, 0, len(r.communities))
	for c := range r.communities {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Default is the value an omitted or unused slot takes.
func (r *RouteRecord) Default(f Field) uint64 {
	switch f {
	case AdminDistance:
		return r.Protocol.defaultAdminDistance(r.internal)
	case LocalPref:
		if r.Protocol == BGP {
			return defaultLocalPref
		}
		return 0
	case Med:
		return defaultMed
	case History:
		return r.Protocol.historyCode()
	case PrefixLength, Metric, BgpInternal, OspfType, IgpMetric, RouterID, ClientID, OspfArea:
		return 0
	}
	panic(fmt.Sprintf("unknown field %d", int(f)))
}

// layout fixes the width of every field for one encoding.
type layout struct {
	widths [numFields]int
}

func (l *layout) width(f Field) int {
	return l.widths[f]
}

// merged returns an import record that carries the attributes of export
// while permitted and the defaults otherwise.
func (f *recordFactory) merged(k solver.Key, export *RouteRecord) *RouteRecord {
	r := &RouteRecord{
		Key:         k,
		Protocol:    export.Protocol,
		Shape:       Merged,
		communities: make(map[string]z.Lit, len(export.communities)),
		internal:    export.internal,
	}
	r.Permitted = f.boolVar(k.With("permitted"))
	for i := Field(0); i < numFields; i++ {
		v, ok := export.attrs[i].Get()
		if !ok {
			continue
		}
		r.attrs[i] = Present(f.x.IteBV(r.Permitted, v, f.x.Constant(v.Width(), r.Default(i))))
	}
	for c, l := range export.communities {
		r.communities[c] = f.x.And(r.Permitted, l)
	}
	f.created = append(f.created, r)
	return r
}

// recordFactory allocates records for one slice.
type recordFactory struct {
	x      *solver.Context
	layout *layout
	// keep says which fields are modelled at all.
	keep [numFields]bool
	// communities lists the concrete communities tracked on BGP records.
	communities []string
	// err is the first declaration failure.
	err error
	// created lists every record in allocation order.
	created []*RouteRecord
}

func (f *recordFactory) fail(err error) {
	if f.err == nil {
		f.err = err
	}
}

func (f *recordFactory) boolVar(k solver.Key) z.Lit {
	l, err := f.x.Bool(k)
	if err != nil {
		f.fail(err)
		return f.x.False()
	}
	return l
}

func (f *recordFactory) bitVecVar(k solver.Key, width int) solver.BitVec {
	v, err := f.x.BitVec(k, width)
	if err != nil {
		f.fail(err)
		return f.x.Constant(width, 0)
	}
	return v
}

// newRecord declares a record. Full records get a variable for every kept
// field relevant to the protocol; PermittedOnly records start with every
// slot omitted.
func (f *recordFactory) newRecord(k solver.Key, p Protocol, shape Shape, internal bool) *RouteRecord {
	r := &RouteRecord{
		Key:         k,
		Protocol:    p,
		Shape:       shape,
		internal:    internal,
		communities: map[string]z.Lit{},
	}
	r.Permitted = f.boolVar(k.With("permitted"))
	f.created = append(f.created, r)
	if shape == PermittedOnly {
		return r
	}
	for i := Field(0); i < numFields; i++ {
		if !f.keep[i] || !i.relevantTo(p) {
			continue
		}
		r.attrs[i] = Present(f.bitVecVar(k.With(i.String()), f.layout.width(i)))
	}
	if p == BGP || p == Best {
		for _, c := range f.communities {
			r.communities[c] = f.boolVar(k.With("community-" + c))
		}
	}
	return r
}

// value returns the term for f, or the record's default as a constant.
func (s *Slice) value(r *RouteRecord, f Field) solver.BitVec {
	if v, ok := r.attrs[f].Get(); ok {
		return v
	}
	return s.x.Constant(s.layout.width(f), r.Default(f))
}

// community returns the community flag, false when untracked.
func (s *Slice) community(r *RouteRecord, c string) z.Lit {
	if l, ok := r.communities[c]; ok {
		return l
	}
	return s.x.False()
}

// equal is attribute equality over every modelled field, plus communities
// when requested. Fields the encoding does not model are ignored.
func (s *Slice) equal(a, b *RouteRecord, communities bool) z.Lit {
	var eqs []z.Lit
	for f := Field(0); f < numFields; f++ {
		if !s.records.keep[f] {
			continue
		}
		eqs = append(eqs, s.x.Eq(s.value(a, f), s.value(b, f)))
	}
	if communities {
		for _, c := range unionCommunities(a, b) {
			eqs = append(eqs, s.x.Iff(s.community(a, c), s.community(b, c)))
		}
	}
	return s.x.And(eqs...)
}

func unionCommunities(a, b *RouteRecord) []string {
	seen := map[string]struct{}{}
	for c := range a.communities {
		seen[c] = struct{}{}
	}
	for c := range b.communities {
		seen[c] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// normalise forces every present slot to its default and every community
// to false when the record is not permitted, so unused records have a
// single canonical assignment. Only Full records own their slots; the other
// shapes derive theirs from permitted.
func (s *Slice) normalise(r *RouteRecord) {
	if r.Shape != Full {
		return
	}
	var defaults []z.Lit
	for f := Field(0); f < numFields; f++ {
		if v, ok := r.attrs[f].Get(); ok {
			defaults = append(defaults, s.x.EqConst(v, r.Default(f)))
		}
	}
	for _, c := range r.Communities() {
		defaults = append(defaults, solver.Not(r.communities[c]))
	}
	if len(defaults) == 0 {
		return
	}
	s.x.Assert(r.Key.With("unused").String(), s.x.Implies(solver.Not(r.Permitted), s.x.And(defaults...)))
}
