package cmd

import (
	"fmt"
	"net/netip"
	"os"

	"github.com/encodeous/lsnet/state"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

const DefaultNodeConfigPath = "node.yaml"

var nodeConfigPath = DefaultNodeConfigPath

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a router config",
	Long:  `Interactively creates the config of one router. Pass --skip to write the defaults (and any flags) without prompting.`,
	Run: func(cmd *cobra.Command, args []string) {
		skip, _ := cmd.Flags().GetBool("skip")
		id, _ := cmd.Flags().GetString("id")
		port, _ := cmd.Flags().GetUint16("port")

		nodeCfg := state.LocalCfg{
			ProcessIP:   netip.MustParseAddr("127.0.0.1"),
			ProcessPort: port,
		}
		outPath := nodeConfigPath

		if skip {
			err := state.AddrValidator(id)
			if err != nil {
				fmt.Printf("Invalid router id %q: %v\n", id, err)
				os.Exit(1)
			}
			nodeCfg.Id = netip.MustParseAddr(id)
		} else {
			fmt.Println("Every router is identified by a simulated IP address, unique in the network.")
			nodeCfg.Id = promptAddr("router id", id)
			nodeCfg.ProcessIP = promptAddr("listen address", nodeCfg.ProcessIP.String())
			nodeCfg.ProcessPort = promptPort("listen port", nodeCfg.ProcessPort)
			nodeCfg.AutoAccept = promptYN("Accept attach requests automatically?", false)
			outPath = safeSaveFile(outPath, "router config")
		}

		err := state.NodeConfigValidator(&nodeCfg)
		if err != nil {
			panic(err)
		}
		ncfg, err := yaml.Marshal(&nodeCfg)
		if err != nil {
			panic(err)
		}
		err = os.WriteFile(outPath, ncfg, 0600)
		if err != nil {
			panic(err)
		}
		fmt.Printf("Router config written to %s\n", outPath)
	},
	GroupID: "init",
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().Bool("skip", false, "Do not prompt, use flags and defaults")
	initCmd.Flags().String("id", "192.168.1.1", "simulated router id")
	initCmd.Flags().Uint16P("port", "p", uint16(state.DefaultPort), "TCP port to listen on")
}
