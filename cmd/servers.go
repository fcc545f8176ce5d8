package cmd

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/toolgate/toolgate/pkg/types"
)

var (
	registerCmdConfigFile string
	registerCmdConnect    bool
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register tool servers with toolgate",
	Long: "Register one or more tool servers from a YAML or JSON file.\n" +
		"The file holds a single server, a list of servers or a mapping with a \"servers\" list.\n\n" +
		"Example:\n" +
		"  servers:\n" +
		"    - id: filesystem\n" +
		"      kind: local-process\n" +
		"      command: npx\n" +
		"      args: [\"-y\", \"@modelcontextprotocol/server-filesystem\", \"/tmp\"]\n" +
		"    - id: weather\n" +
		"      kind: remote\n" +
		"      transport: sse\n" +
		"      url: https://weather.example.com/sse\n",
	RunE: runRegister,
	Annotations: map[string]string{
		"group": string(subCommandGroupBasic),
		"order": "2",
	},
}

var deregisterCmd = &cobra.Command{
	Use:   "deregister <server-id>",
	Short: "Remove a tool server from toolgate",
	Long:  "Disconnects the server if needed and forgets it. Built-in servers cannot be removed.",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeregister,
	Annotations: map[string]string{
		"group": string(subCommandGroupBasic),
		"order": "3",
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect <server-id>",
	Short: "Connect to a registered tool server",
	Args:  cobra.ExactArgs(1),
	RunE:  runConnect,
	Annotations: map[string]string{
		"group": string(subCommandGroupAdvanced),
		"order": "1",
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect <server-id>",
	Short: "Close the connection to a tool server",
	Args:  cobra.ExactArgs(1),
	RunE:  runDisconnect,
	Annotations: map[string]string{
		"group": string(subCommandGroupAdvanced),
		"order": "2",
	},
}

func init() {
	registerCmd.Flags().StringVarP(&registerCmdConfigFile, "conf", "c", "", "YAML or JSON file describing the servers")
	_ = registerCmd.MarkFlagRequired("conf")
	registerCmd.Flags().BoolVar(&registerCmdConnect, "connect", false, "connect to each server right after registering it")

	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(deregisterCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)
}

func runRegister(cmd *cobra.Command, args []string) error {
	configs, err := loadServerConfigs(afero.NewOsFs(), registerCmdConfigFile)
	if err != nil {
		return err
	}
	if len(configs) == 0 {
		return fmt.Errorf("no servers found in %s", registerCmdConfigFile)
	}
	for _, cfg := range configs {
		status, err := apiClient.RegisterServer(cfg, registerCmdConnect)
		if err != nil {
			return fmt.Errorf("failed to register server %s: %w", cfg.ID, err)
		}
		cmd.Printf("Server %s registered\n", cfg.ID)
		printStatus(cmd, status)
	}
	return nil
}

func runDeregister(cmd *cobra.Command, args []string) error {
	if err := apiClient.DeregisterServer(args[0]); err != nil {
		return fmt.Errorf("failed to deregister server %s: %w", args[0], err)
	}
	cmd.Printf("Server %s removed\n", args[0])
	return nil
}

func runConnect(cmd *cobra.Command, args []string) error {
	status, err := apiClient.ConnectServer(args[0])
	if status != nil {
		printStatus(cmd, status)
	}
	return err
}

func runDisconnect(cmd *cobra.Command, args []string) error {
	status, err := apiClient.DisconnectServer(args[0])
	if err != nil {
		return fmt.Errorf("failed to disconnect server %s: %w", args[0], err)
	}
	printStatus(cmd, status)
	return nil
}

func printStatus(cmd *cobra.Command, st *types.ToolServerStatus) {
	cmd.Printf("  state: %s\n", st.State)
	if st.LastError != "" {
		cmd.Printf("  error: %s\n", st.LastError)
	}
	if len(st.Tools) > 0 {
		cmd.Printf("  tools: %d\n", len(st.Tools))
	}
}
