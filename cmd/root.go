// Package cmd implements the toolgate command line.
package cmd

import (
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/toolgate/toolgate/client"
)

type subCommandGroup string

const (
	subCommandGroupBasic    subCommandGroup = "basic"
	subCommandGroupAdvanced subCommandGroup = "advanced"
)

const (
	// RegistryURLEnvVar points client commands at a running server
	RegistryURLEnvVar     = "TOOLGATE_REGISTRY"
	RegistryURLDefault    = "http://127.0.0.1:" + BindPortDefault
	AccessTokenEnvVar     = "TOOLGATE_ACCESS_TOKEN"
	clientRequestTimeout  = 5 * time.Minute
	accessTokenFlagUsage  = "access token sent to the server (overrides env var " + AccessTokenEnvVar + ")"
	registryURLFlagUsage  = "base URL of the toolgate server (overrides env var " + RegistryURLEnvVar + ")"
	debugLoggingFlagUsage = "enable debug logging"
)

var (
	registryServerURL string
	accessToken       string
	debugLogging      bool

	// apiClient is created before any subcommand runs
	apiClient *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "toolgate",
	Short: "Register tool servers and call their tools through a single gateway",
	Long: "toolgate connects to tool servers of every kind (local processes speaking MCP over stdio,\n" +
		"remote HTTP or SSE servers and built-in sandboxed runtimes) and exposes their tools\n" +
		"through one REST API and one MCP endpoint.",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		apiClient = client.NewClient(getRegistryURL(), getAccessToken(), &http.Client{Timeout: clientRequestTimeout})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&registryServerURL, "registry", "", registryURLFlagUsage)
	rootCmd.PersistentFlags().StringVar(&accessToken, "access-token", "", accessTokenFlagUsage)
	rootCmd.PersistentFlags().BoolVar(&debugLogging, "debug", false, debugLoggingFlagUsage)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// getRegistryURL returns the server URL.
// precedence: command line flag > environment variable > default
func getRegistryURL() string {
	if registryServerURL != "" {
		return registryServerURL
	}
	if u := os.Getenv(RegistryURLEnvVar); u != "" {
		return u
	}
	return RegistryURLDefault
}

func getAccessToken() string {
	if accessToken != "" {
		return accessToken
	}
	token, _ := getEnvOrFile(AccessTokenEnvVar)
	return token
}
