package cmd

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	mcputil "github.com/toolgate/toolgate/internal/service/mcp"
)

var usageCmd = &cobra.Command{
	Use:   "usage <server-id> <tool> | usage <server-id>__<tool>",
	Short: "Get usage information for a tool",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runGetToolUsage,
	Annotations: map[string]string{
		"group": string(subCommandGroupBasic),
		"order": "5",
	},
}

func init() {
	rootCmd.AddCommand(usageCmd)
}

func runGetToolUsage(cmd *cobra.Command, args []string) error {
	serverID, toolName, err := toolRef(args)
	if err != nil {
		return err
	}
	t, err := apiClient.GetTool(serverID, toolName)
	if err != nil {
		return fmt.Errorf("failed to get tool '%s' of server '%s': %w", toolName, serverID, err)
	}

	cmd.Printf("%s/%s\n", t.ServerID, t.Tool.Name)
	cmd.Println(t.Tool.Description)

	schema := t.Tool.Schema()
	if len(schema.Properties) == 0 {
		cmd.Println("This tool does not require any input parameters.")
		return nil
	}

	names := make([]string, 0, len(schema.Properties))
	for k := range schema.Properties {
		names = append(names, k)
	}
	sort.Strings(names)

	cmd.Println()
	cmd.Println("Input Parameters:")
	for _, k := range names {
		v := schema.Properties[k]
		requiredOrOptional := "optional"
		if slices.Contains(schema.Required, k) {
			requiredOrOptional = "required"
		}

		boundary := strings.Repeat("=", len(k)+len(requiredOrOptional)+20)

		cmd.Println(boundary)
		cmd.Printf("%s (%s)\n", k, requiredOrOptional)

		j, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			// Simply print the raw object if we fail to marshal it
			cmd.Println(v)
		} else {
			cmd.Println(string(j))
		}
		cmd.Println(boundary)

		cmd.Println()
	}
	return nil
}

// toolRef reads a tool either as two arguments or as one canonical "<server>__<tool>" name.
func toolRef(args []string) (string, string, error) {
	if len(args) == 2 {
		return args[0], args[1], nil
	}
	serverID, toolName, ok := mcputil.SplitServerToolName(args[0])
	if !ok || serverID == "" || toolName == "" {
		return "", "", fmt.Errorf("invalid tool name %q, expected <server-id>__<tool>", args[0])
	}
	return serverID, toolName, nil
}
