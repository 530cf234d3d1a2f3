package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/netverify/cpverify/cmd/cpverify/check"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "cpverify",
		Short: "cpverify",
		Long:  `A CLI tool to verify and repair the control plane of a router network.`,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				log.SetLevel(log.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.AddCommand(check.NewEncodeCmd(), check.NewVerifyCmd(), check.NewRepairCmd())

	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	if err := rootCmd.PersistentFlags().MarkHidden("debug"); err != nil {
		log.Panic(err.Error())
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
