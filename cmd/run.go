package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/encodeous/lsnet/core"
	"github.com/encodeous/lsnet/state"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a router",
	Long:  `This will start the router described by the config file and open its interactive console.`,
	Run: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		logPath, _ := cmd.Flags().GetString("log")
		metricsAddr, _ := cmd.Flags().GetString("metrics")

		err := core.Bootstrap(nodeConfigPath, logPath, verbose, metricsAddr)
		if err != nil {
			if errors.Is(err, state.ErrConfig) || errors.Is(err, os.ErrNotExist) {
				fmt.Printf("Invalid config %s: %v\n", nodeConfigPath, err)
				fmt.Println("Run `lsnet init` to create one.")
				os.Exit(1)
			}
			panic(err)
		}
	},
	GroupID: "ls",
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
	runCmd.Flags().String("log", "", "Also write logs to this file")
	runCmd.Flags().String("metrics", "", "Serve metrics on this address, e.g. 127.0.0.1:6060")
}
