package types

import (
	"fmt"
	"time"
)

// ServerKind describes where a tool server lives.
// All kinds supported by toolgate are defined in this file with this type.
type ServerKind string

const (
	KindLocalProcess ServerKind = "local-process"
	KindRemote       ServerKind = "remote"
	KindInProcess    ServerKind = "in-process"
)

// ServerTransport represents the mechanism used to reach a tool server.
type ServerTransport string

const (
	TransportStdio ServerTransport = "stdio"
	TransportHTTP  ServerTransport = "http"
	TransportSSE   ServerTransport = "sse"
	TransportNone  ServerTransport = "none"
)

// ServerState is the connection state of a tool server.
type ServerState string

const (
	StateDisconnected ServerState = "disconnected"
	StateConnecting   ServerState = "connecting"
	StateConnected    ServerState = "connected"
	StateError        ServerState = "error"
)

// ToolServerConfig is the identity and transport descriptor of a tool server.
type ToolServerConfig struct {
	// ID (mandatory) uniquely identifies the server across the gateway.
	ID string `json:"id" yaml:"id"`

	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Kind (mandatory) is one of "local-process", "remote" or "in-process".
	Kind ServerKind `json:"kind" yaml:"kind"`

	// Transport must agree with Kind: stdio for local-process, http or sse for remote,
	// none for in-process. If empty, the default transport of the kind is used.
	Transport ServerTransport `json:"transport" yaml:"transport"`

	// Command is the executable to run the server.
	// It is mandatory when the transport is "stdio".
	Command string `json:"command,omitempty" yaml:"command,omitempty"`

	// Args is the list of arguments to pass to the command when the transport is "stdio".
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`

	// Env is merged on top of the host environment of the spawned process.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// URL is the base URL of a remote server.
	// It is mandatory when transport is http or sse.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Headers are forwarded verbatim on every request to a remote server.
	// If both BearerToken and Headers["Authorization"] are provided, the custom header takes precedence.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	BearerToken string `json:"bearer_token,omitempty" yaml:"bearer_token,omitempty"`

	// TimeoutSec overrides the per call timeout of remote and local-process servers. Zero means the default (30s).
	TimeoutSec int `json:"timeout_sec,omitempty" yaml:"timeout_sec,omitempty"`

	Enabled bool `json:"enabled" yaml:"enabled"`
}

// Timeout returns the per-request timeout of the server, falling back to def.
func (c *ToolServerConfig) Timeout(def time.Duration) time.Duration {
	if c.TimeoutSec > 0 {
		return time.Duration(c.TimeoutSec) * time.Second
	}
	return def
}

// Clone returns a deep copy of the config so callers can never mutate gateway state.
func (c *ToolServerConfig) Clone() *ToolServerConfig {
	cp := *c
	if c.Args != nil {
		cp.Args = append([]string(nil), c.Args...)
	}
	if c.Env != nil {
		cp.Env = make(map[string]string, len(c.Env))
		for k, v := range c.Env {
			cp.Env[k] = v
		}
	}
	if c.Headers != nil {
		cp.Headers = make(map[string]string, len(c.Headers))
		for k, v := range c.Headers {
			cp.Headers[k] = v
		}
	}
	return &cp
}

// ToolServerStatus is the derived, transient connection status of a server.
type ToolServerStatus struct {
	ServerID  string            `json:"server_id"`
	Kind      ServerKind        `json:"kind"`
	State     ServerState       `json:"state"`
	Tools     []ToolDeclaration `json:"tools,omitempty"`
	LastError string            `json:"last_error,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// ServerMetadata represents the server metadata response
type ServerMetadata struct {
	Version string `json:"version"`
}

// ValidateKind validates the input string and returns the corresponding ServerKind.
func ValidateKind(input string) (ServerKind, error) {
	errMsgExt := fmt.Sprintf(
		"(acceptable values: '%s', '%s', '%s')", KindLocalProcess, KindRemote, KindInProcess,
	)

	switch input {
	case string(KindLocalProcess):
		return KindLocalProcess, nil
	case string(KindRemote):
		return KindRemote, nil
	case string(KindInProcess):
		return KindInProcess, nil
	case "":
		return "", fmt.Errorf("kind is required %s", errMsgExt)
	default:
		return "", fmt.Errorf("unsupported server kind: %s %s", input, errMsgExt)
	}
}

// ValidateTransport checks that the transport is known and compatible with the kind.
// An empty transport resolves to the default transport of the kind.
func ValidateTransport(kind ServerKind, input string) (ServerTransport, error) {
	if input == "" {
		switch kind {
		case KindLocalProcess:
			return TransportStdio, nil
		case KindRemote:
			return TransportHTTP, nil
		case KindInProcess:
			return TransportNone, nil
		}
	}

	t := ServerTransport(input)
	switch t {
	case TransportStdio:
		if kind == KindLocalProcess {
			return t, nil
		}
	case TransportHTTP, TransportSSE:
		if kind == KindRemote {
			return t, nil
		}
	case TransportNone:
		if kind == KindInProcess {
			return t, nil
		}
	default:
		return "", fmt.Errorf(
			"unsupported transport type: %s (acceptable values: '%s', '%s', '%s', '%s')",
			input, TransportStdio, TransportHTTP, TransportSSE, TransportNone,
		)
	}
	return "", fmt.Errorf("transport %s is not supported for %s servers", input, kind)
}
