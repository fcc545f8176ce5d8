package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List toolgate entities",
	Annotations: map[string]string{
		"group": string(subCommandGroupBasic),
		"order": "4",
	},
}

var listServersCmd = &cobra.Command{
	Use:   "servers",
	Short: "List registered tool servers and their connection state",
	RunE:  runListServers,
}

var listToolsCmdServer string

var listToolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools of connected servers",
	Long: "List every tool reachable through the gateway.\n" +
		"If a tool name exists on more than one server, each server's copy is listed.",
	RunE: runListTools,
}

func init() {
	listToolsCmd.Flags().StringVar(&listToolsCmdServer, "server", "", "only list the tools of this server")

	listCmd.AddCommand(listServersCmd)
	listCmd.AddCommand(listToolsCmd)
	rootCmd.AddCommand(listCmd)
}

func runListServers(cmd *cobra.Command, args []string) error {
	servers, err := apiClient.ListServers()
	if err != nil {
		return fmt.Errorf("failed to list servers: %w", err)
	}
	if len(servers) == 0 {
		cmd.Println("There are no tool servers registered")
		return nil
	}
	statuses, err := apiClient.ListServerStatus()
	if err != nil {
		return fmt.Errorf("failed to get server status: %w", err)
	}
	states := make(map[string]string, len(statuses))
	for _, st := range statuses {
		states[st.ServerID] = string(st.State)
	}

	for i, s := range servers {
		enabled := ""
		if !s.Enabled {
			enabled = ", disabled"
		}
		cmd.Printf("%d. %s [%s, %s%s] %s\n", i+1, s.ID, s.Kind, states[s.ID], enabled, s.Name)
		if s.Description != "" {
			cmd.Println("   " + s.Description)
		}
	}
	return nil
}

func runListTools(cmd *cobra.Command, args []string) error {
	tools, err := apiClient.ListTools(listToolsCmdServer)
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}
	if len(tools) == 0 {
		cmd.Println("There are no tools available")
		return nil
	}
	for i, t := range tools {
		desc := strings.SplitN(t.Tool.Description, "\n", 2)[0]
		cmd.Printf("%d. %s/%s", i+1, t.ServerID, t.Tool.Name)
		if desc != "" {
			cmd.Printf("  %s", desc)
		}
		cmd.Println()
	}
	cmd.Println()
	cmd.Println("Run 'usage <server> <tool>' to see a tool's usage or 'invoke <server> <tool>' to call one")
	return nil
}
