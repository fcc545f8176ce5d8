package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var invokeCmdInput string

var invokeCmd = &cobra.Command{
	Use:   "invoke <server-id> <tool> | invoke <server-id>__<tool>",
	Short: "Call a tool through toolgate",
	Long: "Calls a tool and prints its output.\n" +
		"Arguments are passed as a JSON object, eg:\n" +
		"  toolgate invoke shell execute_command --input '{\"command\": \"ls -la\"}'",
	Args: cobra.RangeArgs(1, 2),
	RunE: runInvokeTool,
	Annotations: map[string]string{
		"group": string(subCommandGroupBasic),
		"order": "6",
	},
}

func init() {
	invokeCmd.Flags().StringVar(&invokeCmdInput, "input", "{}", "valid JSON payload of tool arguments")
	rootCmd.AddCommand(invokeCmd)
}

func runInvokeTool(cmd *cobra.Command, args []string) error {
	var input map[string]any
	if err := json.Unmarshal([]byte(invokeCmdInput), &input); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}

	serverID, toolName, err := toolRef(args)
	if err != nil {
		return err
	}
	result, err := apiClient.InvokeTool(serverID, toolName, input)
	if err != nil {
		return fmt.Errorf("failed to invoke tool: %w", err)
	}

	if !result.Success {
		cmd.Println("The tool returned an error:")
		if result.Error != nil {
			cmd.Printf("[%s] %s\n", result.Error.Code, result.Error.Message)
		}
	}

	for _, c := range result.Content {
		switch c["type"] {
		case "text":
			cmd.Println(c["text"])
		case "image":
			cmd.Printf("[image %v, %d base64 bytes]\n", c["mimeType"], len(fmt.Sprint(c["data"])))
		default:
			j, err := json.MarshalIndent(c, "", "  ")
			if err != nil {
				cmd.Println(c)
				continue
			}
			cmd.Println(string(j))
		}
	}
	if result.StructuredContent != nil {
		j, err := json.MarshalIndent(result.StructuredContent, "", "  ")
		if err == nil {
			cmd.Println(string(j))
		}
	}
	cmd.Printf("\n(%d ms)\n", result.Metadata.DurationMs)
	return nil
}
