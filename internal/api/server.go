// Package api provides the HTTP API and the MCP endpoint of the toolgate server.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/service/gateway"
	"github.com/toolgate/toolgate/internal/service/mcpproxy"
	"github.com/toolgate/toolgate/internal/telemetry"
	"github.com/toolgate/toolgate/pkg/types"
	"github.com/toolgate/toolgate/pkg/version"
)

const (
	V0PathPrefix    = "/v0"
	V0ApiPathPrefix = "/api" + V0PathPrefix
)

type ServerOptions struct {
	// Port is the HTTP port to bind the server to
	Port string

	Gateway *gateway.Gateway

	// Proxy exposes every available tool on the /mcp endpoint
	Proxy *mcpproxy.Proxy

	// AccessToken, if set, must be sent as a bearer token on every /api and /mcp request
	AccessToken string

	OtelProviders *telemetry.Providers
	Logger        *zap.Logger
}

// Server serves the toolgate REST API and the MCP proxy.
type Server struct {
	port   string
	router *gin.Engine
	http   *http.Server

	gateway     *gateway.Gateway
	proxy       *mcpproxy.Proxy
	accessToken string

	otelProviders *telemetry.Providers
	logger        *zap.Logger
}

// NewServer initializes a new Gin server for the gateway API and the MCP proxy
func NewServer(opts *ServerOptions) (*Server, error) {
	if opts.Gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if opts.AccessToken != "" {
		if err := CheckAccessToken(opts.AccessToken); err != nil {
			return nil, fmt.Errorf("invalid access token: %w", err)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		port:          opts.Port,
		gateway:       opts.Gateway,
		proxy:         opts.Proxy,
		accessToken:   opts.AccessToken,
		otelProviders: opts.OtelProviders,
		logger:        logger,
	}

	r, err := s.setupRouter()
	if err != nil {
		return nil, err
	}
	s.router = r
	s.http = &http.Server{Addr: ":" + s.port, Handler: r}
	return s, nil
}

// Handler returns the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server (blocking call). It returns nil once Shutdown was called.
func (s *Server) Start() error {
	s.logger.Info("starting toolgate server", zap.String("port", s.port))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to run the server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for the active ones to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// setupRouter sets up the Gin router with the MCP proxy server and API endpoints.
func (s *Server) setupRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	// if otel is enabled, setup prometheus metrics endpoint
	if s.otelProviders != nil && s.otelProviders.IsEnabled() {
		r.Use(otelgin.Middleware(s.otelProviders.ServiceName()))
		r.GET("/metrics", gin.WrapH(s.otelProviders.MetricsHandler()))
	}

	r.GET(
		"/health",
		func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		},
	)

	r.GET(
		"/metadata",
		func(c *gin.Context) {
			m := &types.ServerMetadata{
				Version: version.GetVersion(),
			}
			c.JSON(http.StatusOK, m)
		},
	)

	if s.proxy != nil {
		streamableHTTPServer := server.NewStreamableHTTPServer(s.proxy.MCPServer())
		r.Any("/mcp", s.requireAccessToken(), gin.WrapH(streamableHTTPServer))
	}

	apiV0 := r.Group(V0ApiPathPrefix, s.requireAccessToken())
	{
		apiV0.GET("/servers", s.listServersHandler())
		apiV0.POST("/servers", s.registerServerHandler())
		apiV0.GET("/servers/:id", s.getServerHandler())
		apiV0.PUT("/servers/:id", s.updateServerHandler())
		apiV0.DELETE("/servers/:id", s.deregisterServerHandler())

		apiV0.GET("/servers/:id/status", s.serverStatusHandler())
		apiV0.POST("/servers/:id/connect", s.connectServerHandler())
		apiV0.POST("/servers/:id/disconnect", s.disconnectServerHandler())
		apiV0.POST("/servers/:id/proxy", s.proxyRequestHandler())
		apiV0.GET("/servers/:id/tools/:name", s.getToolHandler())

		apiV0.GET("/status", s.allStatusHandler())

		apiV0.GET("/tools", s.listToolsHandler())
		apiV0.POST("/tools/call", s.callToolHandler())
		apiV0.POST("/tools/batch", s.batchCallHandler())
	}

	return r, nil
}
