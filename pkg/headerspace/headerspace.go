package headerspace

import (
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go4.org/netipx"
)

// PortRange is an inclusive range of transport ports.
type PortRange struct {
	Low, High int
}

func (r PortRange) String() string {
	if r.Low == r.High {
		return strconv.Itoa(r.Low)
	}
	return fmt.Sprintf("%d-%d", r.Low, r.High)
}

// HeaderSpace is an equivalence class of packets. A nil source set, or empty
// protocol and port lists, place no restriction on the field.
type HeaderSpace struct {
	Name      string
	Dst       *netipx.IPSet
	Src       *netipx.IPSet
	Protocols []int
	DstPorts  []PortRange
	SrcPorts  []PortRange
}

// New returns a header space matching every packet towards one of the given
// destination prefixes.
func New(name string, dst ...netip.Prefix) (*HeaderSpace, error) {
	if len(dst) == 0 {
		return nil, errors.New("header space needs at least one destination prefix")
	}
	var b netipx.IPSetBuilder
	for _, p := range dst {
		if !p.Addr().Is4() {
			return nil, errors.Errorf("destination %s: only ipv4 is supported", p)
		}
		b.AddPrefix(p.Masked())
	}
	set, err := b.IPSet()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build destination set")
	}
	return &HeaderSpace{Name: name, Dst: set}, nil
}

// MustNew is New for tests and fixed inputs.
func MustNew(name string, dst ...string) *HeaderSpace {
	var ps []netip.Prefix
	for _, s := range dst {
		ps = append(ps, netip.MustParsePrefix(s))
	}
	h, err := New(name, ps...)
	if err != nil {
		panic(err)
	}
	return h
}

// Parse reads a compact description such as
// "dst=10.0.0.0/24;src=192.168.0.0/16;proto=6;dport=80-443".
func Parse(name, spec string) (*HeaderSpace, error) {
	var dst, src []netip.Prefix
	h := &HeaderSpace{Name: name}
	for _, field := range strings.Split(spec, ";") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			return nil, errors.Errorf("malformed header space field %q", field)
		}
		values := strings.Split(kv[1], ",")
		switch kv[0] {
		case "dst", "src":
			for _, v := range values {
				p, err := netip.ParsePrefix(strings.TrimSpace(v))
				if err != nil {
					return nil, errors.Wrapf(err, "field %s", kv[0])
				}
				if kv[0] == "dst" {
					dst = append(dst, p)
				} else {
					src = append(src, p)
				}
			}
		case "proto":
			for _, v := range values {
				n, err := strconv.Atoi(strings.TrimSpace(v))
				if err != nil || n < 0 || n > 255 {
					return nil, errors.Errorf("invalid ip protocol %q", v)
				}
				h.Protocols = append(h.Protocols, n)
			}
		case "dport", "sport":
			for _, v := range values {
				r, err := parsePortRange(strings.TrimSpace(v))
				if err != nil {
					return nil, err
				}
				if kv[0] == "dport" {
					h.DstPorts = append(h.DstPorts, r)
				} else {
					h.SrcPorts = append(h.SrcPorts, r)
				}
			}
		default:
			return nil, errors.Errorf("unknown header space field %q", kv[0])
		}
	}
	base, err := New(name, dst...)
	if err != nil {
		return nil, err
	}
	h.Dst = base.Dst
	if len(src) > 0 {
		var b netipx.IPSetBuilder
		for _, p := range src {
			b.AddPrefix(p.Masked())
		}
		if h.Src, err = b.IPSet(); err != nil {
			return nil, errors.Wrap(err, "failed to build source set")
		}
	}
	return h, nil
}

func parsePortRange(s string) (PortRange, error) {
	parts := strings.SplitN(s, "-", 2)
	lo, err := strconv.Atoi(parts[0])
	if err != nil {
		return PortRange{}, errors.Errorf("invalid port %q", s)
	}
	hi := lo
	if len(parts) == 2 {
		if hi, err = strconv.Atoi(parts[1]); err != nil {
			return PortRange{}, errors.Errorf("invalid port %q", s)
		}
	}
	if lo < 0 || hi > 65535 || lo > hi {
		return PortRange{}, errors.Errorf("invalid port range %q", s)
	}
	return PortRange{Low: lo, High: hi}, nil
}

// DstPrefixes returns the destination set as a minimal list of prefixes.
func (h *HeaderSpace) DstPrefixes() []netip.Prefix {
	return h.Dst.Prefixes()
}

// Relevant reports whether some destination of the header space falls inside p.
func (h *HeaderSpace) Relevant(p netip.Prefix) bool {
	return h.Dst.OverlapsPrefix(p.Masked())
}

// Within reports whether every destination of the header space falls inside p.
func (h *HeaderSpace) Within(p netip.Prefix) bool {
	return containsAll(p.Masked(), h.Dst.Prefixes())
}

func containsAll(p netip.Prefix, ps []netip.Prefix) bool {
	for _, q := range ps {
		if q.Bits() < p.Bits() || !p.Contains(q.Addr()) {
			return false
		}
	}
	return true
}

// Key is a stable textual rendering used in variable names and logs.
func (h *HeaderSpace) Key() string {
	var parts []string
	for _, p := range h.Dst.Prefixes() {
		parts = append(parts, p.String())
	}
	s := "dst=" + strings.Join(parts, ",")
	if h.Src != nil {
		parts = parts[:0]
		for _, p := range h.Src.Prefixes() {
			parts = append(parts, p.String())
		}
		s += ";src=" + strings.Join(parts, ",")
	}
	if len(h.Protocols) > 0 {
		ps := append([]int(nil), h.Protocols...)
		sort.Ints(ps)
		var strs []string
		for _, p := range ps {
			strs = append(strs, strconv.Itoa(p))
		}
		s += ";proto=" + strings.Join(strs, ",")
	}
	for _, f := range []struct {
		name   string
		ranges []PortRange
	}{{"dport", h.DstPorts}, {"sport", h.SrcPorts}} {
		if len(f.ranges) == 0 {
			continue
		}
		var strs []string
		for _, r := range f.ranges {
			strs = append(strs, r.String())
		}
		s += ";" + f.name + "=" + strings.Join(strs, ",")
	}
	return s
}

func (h *HeaderSpace) String() string {
	if h.Name != "" {
		return h.Name
	}
	return h.Key()
}
