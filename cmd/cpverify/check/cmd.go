package check

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/netverify/cpverify/pkg/encoder"
	"github.com/netverify/cpverify/pkg/headerspace"
	"github.com/netverify/cpverify/pkg/network"
	"github.com/netverify/cpverify/pkg/solver"
)

// flags shared by every subcommand.
type flags struct {
	network  string
	dst      string
	failures int
	trace    bool
	metrics  string
}

func (f *flags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.network, "network", "n", "", "Path to the network model (yaml).")
	if err := cmd.MarkFlagRequired("network"); err != nil {
		log.Fatalf("Failed to mark `network` flag for `%s` subcommand as required", cmd.Name())
	}

	cmd.Flags().StringVarP(&f.dst, "dst", "d", "", "Header space of the packets, e.g. \"dst=10.0.0.0/24;dport=80\".")
	if err := cmd.MarkFlagRequired("dst"); err != nil {
		log.Fatalf("Failed to mark `dst` flag for `%s` subcommand as required", cmd.Name())
	}

	cmd.Flags().IntVarP(&f.failures, "failures", "k", 0, "Maximum number of simultaneously failed links.")
	cmd.Flags().BoolVar(&f.trace, "trace", false, "Print every call into the SAT back end.")
	cmd.Flags().StringVar(&f.metrics, "metrics", "", "Write the encoder metrics to this file in the Prometheus text format.")
}

// writeMetrics dumps the default registry when --metrics is set.
func (f *flags) writeMetrics() {
	if f.metrics == "" {
		return
	}
	if err := writeTextfile(f.metrics, prometheus.DefaultGatherer); err != nil {
		log.WithError(err).Warn("failed to write metrics")
	}
}

// writeTextfile writes the gathered families in the text exposition format,
// replacing path atomically.
func writeTextfile(path string, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return errors.Wrap(err, "gathering metrics")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(tmp, mf); err != nil {
			tmp.Close()
			return errors.Wrapf(err, "encoding %s", mf.GetName())
		}
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// build loads the network and encodes the slice named by the dst flag.
func (f *flags) build(ctx context.Context, out io.Writer, options ...encoder.Option) (*encoder.Encoder, *encoder.Slice, error) {
	n, err := network.Load(f.network)
	if err != nil {
		return nil, nil, err
	}
	hs, err := headerspace.Parse(f.dst, f.dst)
	if err != nil {
		return nil, nil, errors.Wrap(err, "invalid --dst")
	}

	options = append(options, encoder.WithFailures(f.failures), encoder.WithLogger(log.StandardLogger()))
	if f.trace {
		options = append(options, encoder.WithTracer(solver.LoggingTracer{Writer: out}))
	}
	e, err := encoder.New(n, options...)
	if err != nil {
		return nil, nil, err
	}
	s, err := e.AddSlice(ctx, hs)
	if err != nil {
		return nil, nil, err
	}
	return e, s, nil
}

// signalContext is cancelled on interrupt so a long solve can be stopped.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

func printResult(out io.Writer, res *encoder.Result) {
	if len(res.Failures) > 0 {
		fmt.Fprintf(out, "failed links:\n")
		for _, l := range res.Failures {
			fmt.Fprintf(out, "  %s\n", l)
		}
	}
	for _, s := range res.Slices {
		fmt.Fprintf(out, "slice %s %v:\n", s.Name, s.Dst)
		for _, r := range s.Routers {
			switch {
			case r.Reachable && len(r.Forwarding) == 0:
				fmt.Fprintf(out, "  %s: delivers\n", r.Router)
			case r.Reachable:
				fmt.Fprintf(out, "  %s: forwards %v via %v\n", r.Router, r.Forwarding, r.Protocols)
			case r.BlackHole():
				fmt.Fprintf(out, "  %s: drops\n", r.Router)
			default:
				fmt.Fprintf(out, "  %s: forwards %v via %v, never delivered\n", r.Router, r.Forwarding, r.Protocols)
			}
		}
	}
}
