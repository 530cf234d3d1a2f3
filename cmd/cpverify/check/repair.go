package check

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/netverify/cpverify/pkg/encoder"
	"github.com/netverify/cpverify/pkg/solver"
)

var (
	repairArgs    flags
	repairSources []string
)

// NewRepairCmd returns a command that suggests configuration edits making
// the destination reachable.
func NewRepairCmd() *cobra.Command {
	repairCmd := &cobra.Command{
		Use:   "repair",
		Short: "Suggest the cheapest configuration edits restoring reachability",
		Long: `The cpverify repair command lets the solver edit access lists, static
        routes, route filters, redistribution and adjacencies, and prints the
        set of edits of least total weight under which every source router
        reaches the destination.

        $ cpverify repair -n network.yaml -d "dst=10.0.0.0/24" -s r1
        `,
		RunE: repairFunc,
	}
	repairArgs.register(repairCmd)
	repairCmd.Flags().StringSliceVarP(&repairSources, "source", "s", nil, "Routers that must reach the destination. Defaults to all routers.")
	return repairCmd
}

func repairFunc(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()
	defer repairArgs.writeMetrics()

	out := cmd.OutOrStdout()
	e, s, err := repairArgs.build(ctx, out, encoder.WithRepair())
	if err != nil {
		return err
	}

	res, err := e.Solve(ctx, s.RequireReachable(repairSources...)...)
	var unsat solver.NotSatisfiable
	if errors.As(err, &unsat) {
		fmt.Fprintf(out, "no repair found: %v\n", err)
		return ErrViolated
	}
	if err != nil {
		return err
	}
	if len(res.Suggestions) == 0 {
		fmt.Fprintf(out, "no edits needed\n")
		return nil
	}
	fmt.Fprintf(out, "edits (cost %d):\n", res.Cost)
	for _, sg := range res.Suggestions {
		fmt.Fprintf(out, "  %s\n", sg)
	}
	return nil
}
