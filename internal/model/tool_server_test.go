package model

import (
	"testing"

	"github.com/toolgate/toolgate/pkg/types"
)

func TestNewRemoteServer(t *testing.T) {
	tests := []struct {
		name        string
		transport   types.ServerTransport
		url         string
		bearerToken string
		headers     map[string]string
		wantErr     bool
		errMsg      string
	}{
		{
			name:        "valid http server with bearer token",
			transport:   types.TransportHTTP,
			url:         "https://example.com",
			bearerToken: "secret-token",
		},
		{
			name:      "valid sse server with custom headers",
			transport: types.TransportSSE,
			url:       "https://example.com/sse",
			headers: map[string]string{
				"Authorization": "token abc",
				"Foo":           "Bar",
			},
		},
		{
			name:      "empty url",
			transport: types.TransportHTTP,
			url:       "",
			wantErr:   true,
			errMsg:    "url is required for http transport",
		},
		{
			name:      "stdio is not remote",
			transport: types.TransportStdio,
			url:       "https://example.com",
			wantErr:   true,
			errMsg:    "transport stdio is not supported for remote servers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, err := NewRemoteServer("srv", "Server", "desc", tt.transport, tt.url, tt.bearerToken, tt.headers, 12)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				if err.Error() != tt.errMsg {
					t.Errorf("expected error %q, got %q", tt.errMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if server.Kind != types.KindRemote {
				t.Errorf("expected kind %s, got %s", types.KindRemote, server.Kind)
			}

			conf, err := server.GetRemoteConfig()
			if err != nil {
				t.Fatalf("failed to get remote config: %v", err)
			}
			if conf.URL != tt.url {
				t.Errorf("expected URL %q, got %q", tt.url, conf.URL)
			}
			if conf.BearerToken != tt.bearerToken {
				t.Errorf("expected bearer token %q, got %q", tt.bearerToken, conf.BearerToken)
			}
			if len(conf.Headers) != len(tt.headers) {
				t.Errorf("expected %d headers, got %d", len(tt.headers), len(conf.Headers))
			}
			if conf.TimeoutSec != 12 {
				t.Errorf("expected timeout 12, got %d", conf.TimeoutSec)
			}
			if _, err := server.GetStdioConfig(); err == nil {
				t.Errorf("expected error reading stdio config of a remote server")
			}
		})
	}
}

func TestNewStdioServer(t *testing.T) {
	s, err := NewStdioServer("fs", "Files", "", "npx", []string{"-y", "server"}, map[string]string{"K": "V"}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conf, err := s.GetStdioConfig()
	if err != nil {
		t.Fatalf("failed to get stdio config: %v", err)
	}
	if conf.Command != "npx" || len(conf.Args) != 2 || conf.Env["K"] != "V" {
		t.Errorf("unexpected stdio config: %+v", conf)
	}

	if _, err := NewStdioServer("fs", "", "", "", nil, nil, 0); err == nil {
		t.Error("expected error for empty command")
	}
}

func TestConfigRoundTrip(t *testing.T) {
	tests := []*types.ToolServerConfig{
		{
			ID:         "local",
			Name:       "Local",
			Kind:       types.KindLocalProcess,
			Transport:  types.TransportStdio,
			Command:    "python3",
			Args:       []string{"server.py"},
			Env:        map[string]string{"DEBUG": "1"},
			TimeoutSec: 20,
			Enabled:    true,
		},
		{
			ID:          "remote",
			Name:        "Remote",
			Description: "remote tools",
			Kind:        types.KindRemote,
			Transport:   types.TransportSSE,
			URL:         "http://localhost:9000/sse",
			BearerToken: "tok",
			Headers:     map[string]string{"X-A": "b"},
			TimeoutSec:  45,
			Enabled:     false,
		},
	}
	for _, cfg := range tests {
		t.Run(cfg.ID, func(t *testing.T) {
			s, err := FromConfig(cfg)
			if err != nil {
				t.Fatalf("FromConfig() error = %v", err)
			}
			if s.Enabled != cfg.Enabled {
				t.Errorf("Enabled = %v, want %v", s.Enabled, cfg.Enabled)
			}
			back, err := s.ToConfig()
			if err != nil {
				t.Fatalf("ToConfig() error = %v", err)
			}
			if back.ID != cfg.ID || back.Kind != cfg.Kind || back.Transport != cfg.Transport ||
				back.Command != cfg.Command || back.URL != cfg.URL || back.TimeoutSec != cfg.TimeoutSec {
				t.Errorf("ToConfig() = %+v, want %+v", back, cfg)
			}
		})
	}

	if _, err := FromConfig(&types.ToolServerConfig{ID: "x", Kind: types.KindInProcess}); err == nil {
		t.Error("expected in-process configs to be rejected")
	}
}
