package check

import (
	"fmt"

	"github.com/spf13/cobra"
)

var encodeArgs flags

// NewEncodeCmd returns a command that encodes a network and prints the size
// of the encoding.
func NewEncodeCmd() *cobra.Command {
	encodeCmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode a network and report the size of the encoding",
		Long: `The cpverify encode command builds the constraint encoding of the
        routing control plane for one header space and prints how many
        variables, gates and assertions it contains.

        $ cpverify encode -n network.yaml -d "dst=10.0.0.0/24"
        `,
		RunE: encodeFunc,
	}
	encodeArgs.register(encodeCmd)
	return encodeCmd
}

func encodeFunc(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()
	defer encodeArgs.writeMetrics()

	e, _, err := encodeArgs.build(ctx, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	st := e.Context().Stats()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "slices: %d\n", len(e.Slices()))
	fmt.Fprintf(out, "variables: %d\n", st.Variables)
	fmt.Fprintf(out, "gates: %d\n", st.Gates)
	fmt.Fprintf(out, "hard assertions: %d\n", st.Hard)
	fmt.Fprintf(out, "soft assertions: %d\n", st.Soft)
	return nil
}
