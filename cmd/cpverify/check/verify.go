package check

import (
	"context"
	"fmt"
	"io"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/netverify/cpverify/pkg/filemonitor"
)

// ErrViolated is returned when a verified property does not hold.
var ErrViolated = errors.New("property violated")

var (
	verifyArgs    flags
	verifySources []string
	verifyWatch   bool
)

// NewVerifyCmd returns a command that checks reachability under failures.
func NewVerifyCmd() *cobra.Command {
	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify that packets reach their destination",
		Long: `The cpverify verify command checks that every source router delivers
        every packet of the header space, for every combination of at most
        --failures failed links. When the property does not hold a
        counterexample is printed. With --watch the check is repeated each
        time the network file changes, until interrupted.

        $ cpverify verify -n network.yaml -d "dst=10.0.0.0/24" -k 1 -s r1 -s r2
        `,
		RunE: verifyFunc,
	}
	verifyArgs.register(verifyCmd)
	verifyCmd.Flags().StringSliceVarP(&verifySources, "source", "s", nil, "Routers that must reach the destination. Defaults to all routers.")
	verifyCmd.Flags().BoolVarP(&verifyWatch, "watch", "w", false, "Verify again whenever the network file changes.")
	return verifyCmd
}

func verifyFunc(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()
	defer verifyArgs.writeMetrics()

	out := cmd.OutOrStdout()
	err := verifyOnce(ctx, out)
	if !verifyWatch {
		return err
	}
	report(err)

	w, err := filemonitor.NewWatch(log.StandardLogger(), []string{verifyArgs.network}, func(logger log.FieldLogger, event fsnotify.Event) {
		logger.WithField("file", event.Name).Info("network changed")
		report(verifyOnce(ctx, out))
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "watching %s\n", verifyArgs.network)
	w.Run(ctx)
	return nil
}

// report logs a failed check while watching; violations are already printed.
func report(err error) {
	if err != nil && !errors.Is(err, ErrViolated) {
		log.WithError(err).Error("verification failed")
	}
}

func verifyOnce(ctx context.Context, out io.Writer) error {
	e, s, err := verifyArgs.build(ctx, out)
	if err != nil {
		return err
	}
	for _, r := range verifySources {
		if e.Graph().Index(r) == 0 {
			return errors.Errorf("unknown source router %q", r)
		}
	}

	v, err := e.VerifyReachability(ctx, s, verifySources...)
	if err != nil {
		return err
	}
	if v.Holds {
		fmt.Fprintf(out, "verified\n")
		return nil
	}
	fmt.Fprintf(out, "counterexample:\n")
	printResult(out, v.Counterexample)
	return ErrViolated
}
