package headerspace

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	_, err := New("empty")
	assert.Error(t, err)

	_, err = New("v6", netip.MustParsePrefix("2001:db8::/32"))
	assert.Error(t, err)

	h, err := New("pair", netip.MustParsePrefix("10.0.1.0/24"), netip.MustParsePrefix("10.0.0.7/24"))
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("10.0.0.0/23")}, h.DstPrefixes())
	assert.Equal(t, "pair", h.String())
}

func TestParse(t *testing.T) {
	type tc struct {
		Name  string
		Spec  string
		Key   string
		Error string
	}

	for _, tt := range []tc{
		{
			Name: "destination only",
			Spec: "dst=10.0.0.0/24",
			Key:  "dst=10.0.0.0/24",
		},
		{
			Name: "all fields",
			Spec: " dst=10.0.0.0/24 ; src=192.168.0.0/16;proto=17,6;dport=80-443,8080;sport=1024-65535",
			Key:  "dst=10.0.0.0/24;src=192.168.0.0/16;proto=6,17;dport=80-443,8080;sport=1024-65535",
		},
		{
			Name:  "no destination",
			Spec:  "proto=6",
			Error: "at least one destination",
		},
		{
			Name:  "malformed field",
			Spec:  "dst",
			Error: "malformed header space field",
		},
		{
			Name:  "unknown field",
			Spec:  "dst=10.0.0.0/8;ttl=3",
			Error: `unknown header space field "ttl"`,
		},
		{
			Name:  "bad prefix",
			Spec:  "dst=10.0.0.0/33",
			Error: "field dst",
		},
		{
			Name:  "bad protocol",
			Spec:  "dst=10.0.0.0/8;proto=300",
			Error: "invalid ip protocol",
		},
		{
			Name:  "inverted port range",
			Spec:  "dst=10.0.0.0/8;dport=443-80",
			Error: "invalid port range",
		},
		{
			Name:  "port out of range",
			Spec:  "dst=10.0.0.0/8;sport=70000",
			Error: "invalid port range",
		},
	} {
		t.Run(tt.Name, func(t *testing.T) {
			h, err := Parse(tt.Name, tt.Spec)
			if tt.Error != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.Error)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.Key, h.Key())
			assert.Equal(t, tt.Name, h.String())
		})
	}
}

func TestRelevantAndWithin(t *testing.T) {
	h := MustNew("web", "10.0.0.0/24")

	for _, tt := range []struct {
		Prefix   string
		Relevant bool
		Within   bool
	}{
		{Prefix: "10.0.0.0/8", Relevant: true, Within: true},
		{Prefix: "10.0.0.0/24", Relevant: true, Within: true},
		{Prefix: "10.0.0.128/25", Relevant: true},
		{Prefix: "10.0.1.0/24"},
		{Prefix: "0.0.0.0/0", Relevant: true, Within: true},
	} {
		t.Run(tt.Prefix, func(t *testing.T) {
			p := netip.MustParsePrefix(tt.Prefix)
			assert.Equal(t, tt.Relevant, h.Relevant(p))
			assert.Equal(t, tt.Within, h.Within(p))
		})
	}
}

func TestMustNewPanics(t *testing.T) {
	assert.Panics(t, func() { MustNew("none") })
}

func TestPortRangeString(t *testing.T) {
	assert.Equal(t, "80", PortRange{Low: 80, High: 80}.String())
	assert.Equal(t, "80-443", PortRange{Low: 80, High: 443}.String())
}
