package encoder

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/netverify/cpverify/pkg/solver"
)

// Widths sets the bit-widths of the integer attributes. Router and client
// ids and OSPF areas are sized from the network instead.
type Widths struct {
	PrefixLength  int
	AdminDistance int
	Metric        int
	Med           int
	LocalPref     int
	IgpMetric     int
}

var DefaultWidths = Widths{
	PrefixLength:  6,
	AdminDistance: 8,
	Metric:        16,
	Med:           16,
	LocalPref:     16,
	IgpMetric:     16,
}

// Config holds the knobs of an Encoder. Build one with Options.
type Config struct {
	// MaxFailures bounds the number of simultaneously failed links.
	MaxFailures int
	// Repair turns configuration edits into soft constraints.
	Repair bool
	// Weights override the default weight of a repair category.
	Weights  map[Category]int
	Widths   Widths
	Transfer TransferFunction
	Logger   logrus.FieldLogger
	Tracer   solver.Tracer
	// DisableOptimizations keeps every attribute and allocates a Full
	// record on every logical edge.
	DisableOptimizations bool
}

type Option func(c *Config) error

func WithFailures(k int) Option {
	return func(c *Config) error {
		if k < 0 {
			return fmt.Errorf("failures must be non-negative, got %d", k)
		}
		c.MaxFailures = k
		return nil
	}
}

func WithRepair() Option {
	return func(c *Config) error {
		c.Repair = true
		return nil
	}
}

func WithWeight(cat Category, w int) Option {
	return func(c *Config) error {
		if w <= 0 {
			return fmt.Errorf("weight of %s must be positive, got %d", cat, w)
		}
		if c.Weights == nil {
			c.Weights = map[Category]int{}
		}
		c.Weights[cat] = w
		return nil
	}
}

func WithWidths(w Widths) Option {
	return func(c *Config) error {
		for name, v := range map[string]int{
			"prefix length":  w.PrefixLength,
			"admin distance": w.AdminDistance,
			"metric":         w.Metric,
			"med":            w.Med,
			"local pref":     w.LocalPref,
			"igp metric":     w.IgpMetric,
		} {
			if v <= 0 || v > 32 {
				return fmt.Errorf("%s width %d out of range", name, v)
			}
		}
		if w.PrefixLength < solver.BitsFor(32) {
			return fmt.Errorf("prefix length width %d cannot hold 32", w.PrefixLength)
		}
		c.Widths = w
		return nil
	}
}

func WithTransfer(t TransferFunction) Option {
	return func(c *Config) error {
		c.Transfer = t
		return nil
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Config) error {
		c.Logger = l
		return nil
	}
}

func WithTracer(t solver.Tracer) Option {
	return func(c *Config) error {
		c.Tracer = t
		return nil
	}
}

func WithoutOptimizations() Option {
	return func(c *Config) error {
		c.DisableOptimizations = true
		return nil
	}
}

var defaults = []Option{
	func(c *Config) error {
		if c.Widths == (Widths{}) {
			c.Widths = DefaultWidths
		}
		return nil
	},
	func(c *Config) error {
		if c.Transfer == nil {
			c.Transfer = PolicyTransfer{}
		}
		return nil
	},
	func(c *Config) error {
		if c.Logger == nil {
			c.Logger = logrus.StandardLogger()
		}
		return nil
	},
	func(c *Config) error {
		if c.Tracer == nil {
			c.Tracer = solver.DefaultTracer{}
		}
		return nil
	},
}

func (c *Config) weight(cat Category) int {
	if w, ok := c.Weights[cat]; ok {
		return w
	}
	return cat.defaultWeight()
}
