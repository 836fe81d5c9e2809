package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is overridden at build time with -ldflags "-X github.com/encodeous/lsnet/cmd.Version=..."
var Version = "dev"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lsnet",
	Short: "Link-state routing simulator",
	Long: `lsnet runs one simulated router of a link-state network.
Routers attach to each other over TCP, exchange link-state advertisements and compute shortest paths over the resulting topology.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the lsnet version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(Version)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "init",
		Title: "Initialize a Router",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "ls",
		Title: "Router Commands",
	})
	rootCmd.PersistentFlags().StringVarP(&nodeConfigPath, "config", "c", DefaultNodeConfigPath, "router config")
	rootCmd.AddCommand(versionCmd)
}
