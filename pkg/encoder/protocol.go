package encoder

import (
	"fmt"
)

// Protocol is the closed set of route sources. Best is the pseudo-protocol
// of a router's overall winner.
type Protocol int

const (
	Connected Protocol = iota
	Static
	OSPF
	BGP
	Best
)

// routingProtocols lists the real protocols in preference order for ties.
var routingProtocols = []Protocol{Connected, Static, OSPF, BGP}

func (p Protocol) String() string {
	switch p {
	case Connected:
		return "CONNECTED"
	case Static:
		return "STATIC"
	case OSPF:
		return "OSPF"
	case BGP:
		return "BGP"
	case Best:
		return "BEST"
	}
	panic(fmt.Sprintf("unknown protocol %d", int(p)))
}

// ParseProtocol reads the lower-case names used in network files.
func ParseProtocol(s string) (Protocol, error) {
	switch s {
	case "connected":
		return Connected, nil
	case "static":
		return Static, nil
	case "ospf":
		return OSPF, nil
	case "bgp":
		return BGP, nil
	}
	return 0, fmt.Errorf("unknown protocol %q", s)
}

// exports reports whether the protocol propagates routes to neighbours.
func (p Protocol) exports() bool {
	switch p {
	case Connected, Static, Best:
		return false
	case OSPF, BGP:
		return true
	}
	panic(fmt.Sprintf("unknown protocol %d", int(p)))
}

// historyCode is the enum value recorded in protocolHistory.
func (p Protocol) historyCode() uint64 {
	switch p {
	case Connected:
		return 0
	case Static:
		return 1
	case OSPF:
		return 2
	case BGP:
		return 3
	case Best:
		return 0
	}
	panic(fmt.Sprintf("unknown protocol %d", int(p)))
}

// defaultAdminDistance follows common vendor defaults; internal selects the
// iBGP distance.
func (p Protocol) defaultAdminDistance(internal bool) uint64 {
	switch p {
	case Connected, Static:
		return 1
	case OSPF:
		return 110
	case BGP:
		if internal {
			return 200
		}
		return 20
	case Best:
		return 0
	}
	panic(fmt.Sprintf("unknown protocol %d", int(p)))
}

const (
	defaultLocalPref = 100
	defaultMed       = 100
	// redistributedOspfMetric is the seed metric of routes redistributed
	// into OSPF without an explicit metric.
	redistributedOspfMetric = 20
)

// OSPF route types, ordered by preference.
const (
	ospfIntraArea = 0
	ospfInterArea = 1
	ospfE1        = 2
	ospfE2        = 3
)
