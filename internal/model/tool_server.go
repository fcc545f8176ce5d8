package model

import (
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/toolgate/toolgate/pkg/types"
)

type RemoteConfig struct {
	// URL must be a valid http/https URL.
	URL string `json:"url"`

	// BearerToken is an optional token used for authenticating requests to the remote server.
	// If present, it will be used to set the Authorization header in all requests to this server.
	BearerToken string `json:"bearer_token,omitempty"`

	// Headers are optional custom HTTP headers forwarded to the remote server.
	Headers map[string]string `json:"headers,omitempty"`

	TimeoutSec int `json:"timeout_sec,omitempty"`
}

type StdioConfig struct {
	// Command is the shell command to run the stdio server.
	Command string `json:"command"`

	// Args contains a list of strings that are passed as arguments to the command
	Args []string `json:"args,omitempty"`

	// Env describes the environment variables to pass to the server
	Env map[string]string `json:"env,omitempty"`

	TimeoutSec int `json:"timeout_sec,omitempty"`
}

// ToolServer is the persisted configuration of a tool server.
// In-process servers are never persisted, they are registered by code on every start.
type ToolServer struct {
	gorm.Model

	ServerID  string                `json:"server_id" gorm:"uniqueIndex;not null"`
	Name      string                `json:"name"`
	Kind      types.ServerKind      `json:"kind" gorm:"type:varchar(30);not null"`
	Transport types.ServerTransport `json:"transport" gorm:"type:varchar(30);not null"`

	Description string `json:"description"`

	// Config contains the JSON representation of either StdioConfig or RemoteConfig.
	Config datatypes.JSON `json:"config" gorm:"type:jsonb;not null"`

	Enabled bool `json:"enabled" gorm:"not null"`
}

// NewStdioServer creates a local-process server with stdio transport configuration.
func NewStdioServer(
	id, name, description, command string, args []string, env map[string]string, timeoutSec int,
) (*ToolServer, error) {
	if command == "" {
		return nil, errors.New("command is required for stdio transport")
	}
	configJSON, err := json.Marshal(StdioConfig{Command: command, Args: args, Env: env, TimeoutSec: timeoutSec})
	if err != nil {
		return nil, err
	}
	return &ToolServer{
		ServerID:    id,
		Name:        name,
		Description: description,
		Kind:        types.KindLocalProcess,
		Transport:   types.TransportStdio,
		Config:      datatypes.JSON(configJSON),
		Enabled:     true,
	}, nil
}

// NewRemoteServer creates a remote server with http or sse transport configuration.
func NewRemoteServer(
	id, name, description string,
	transport types.ServerTransport,
	url, bearerToken string,
	headers map[string]string,
	timeoutSec int,
) (*ToolServer, error) {
	if transport != types.TransportHTTP && transport != types.TransportSSE {
		return nil, fmt.Errorf("transport %s is not supported for remote servers", transport)
	}
	if url == "" {
		return nil, fmt.Errorf("url is required for %s transport", transport)
	}
	configJSON, err := json.Marshal(RemoteConfig{
		URL:         url,
		BearerToken: bearerToken,
		Headers:     headers,
		TimeoutSec:  timeoutSec,
	})
	if err != nil {
		return nil, err
	}
	return &ToolServer{
		ServerID:    id,
		Name:        name,
		Description: description,
		Kind:        types.KindRemote,
		Transport:   transport,
		Config:      configJSON,
		Enabled:     true,
	}, nil
}

// FromConfig builds the persisted form of a server config.
func FromConfig(cfg *types.ToolServerConfig) (*ToolServer, error) {
	var (
		s   *ToolServer
		err error
	)
	switch cfg.Kind {
	case types.KindLocalProcess:
		s, err = NewStdioServer(cfg.ID, cfg.Name, cfg.Description, cfg.Command, cfg.Args, cfg.Env, cfg.TimeoutSec)
	case types.KindRemote:
		s, err = NewRemoteServer(
			cfg.ID, cfg.Name, cfg.Description, cfg.Transport, cfg.URL, cfg.BearerToken, cfg.Headers, cfg.TimeoutSec,
		)
	default:
		return nil, fmt.Errorf("servers of kind %s are not persisted", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	s.Enabled = cfg.Enabled
	return s, nil
}

// GetStdioConfig returns the configuration if this is a stdio server
func (s *ToolServer) GetStdioConfig() (*StdioConfig, error) {
	if s.Transport != types.TransportStdio {
		return nil, errors.New("server is not a stdio transport type")
	}
	var config StdioConfig
	if err := json.Unmarshal(s.Config, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// GetRemoteConfig returns the configuration if this is an http or sse server
func (s *ToolServer) GetRemoteConfig() (*RemoteConfig, error) {
	if s.Transport != types.TransportHTTP && s.Transport != types.TransportSSE {
		return nil, errors.New("server is not a remote transport type")
	}
	var config RemoteConfig
	if err := json.Unmarshal(s.Config, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// ToConfig converts the persisted form back to a server config.
func (s *ToolServer) ToConfig() (*types.ToolServerConfig, error) {
	cfg := &types.ToolServerConfig{
		ID:          s.ServerID,
		Name:        s.Name,
		Description: s.Description,
		Kind:        s.Kind,
		Transport:   s.Transport,
		Enabled:     s.Enabled,
	}
	switch s.Transport {
	case types.TransportStdio:
		c, err := s.GetStdioConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to decode stdio config of server %s: %w", s.ServerID, err)
		}
		cfg.Command, cfg.Args, cfg.Env, cfg.TimeoutSec = c.Command, c.Args, c.Env, c.TimeoutSec
	case types.TransportHTTP, types.TransportSSE:
		c, err := s.GetRemoteConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to decode remote config of server %s: %w", s.ServerID, err)
		}
		cfg.URL, cfg.BearerToken, cfg.Headers, cfg.TimeoutSec = c.URL, c.BearerToken, c.Headers, c.TimeoutSec
	default:
		return nil, fmt.Errorf("unsupported transport %s for server %s", s.Transport, s.ServerID)
	}
	return cfg, nil
}
