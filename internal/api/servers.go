package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/service/gateway"
	"github.com/toolgate/toolgate/pkg/types"
)

func (s *Server) listServersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, s.gateway.ListServers())
	}
}

func (s *Server) getServerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg, err := s.gateway.GetServerConfig(c.Param("id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, cfg)
	}
}

// registerServerHandler adds a server. Servers are enabled unless the body says otherwise.
// With ?connect=true the gateway connects right away; a failed attempt still registers the server.
func (s *Server) registerServerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		input := types.ToolServerConfig{Enabled: true}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		status, err := s.gateway.AddServer(c, &input)
		if err != nil {
			abortWithError(c, err)
			return
		}

		if connect, _ := strconv.ParseBool(c.Query("connect")); connect {
			if st, err := s.gateway.Connect(c, input.ID); err != nil {
				s.logger.Warn("registered server failed to connect", zap.String("server_id", input.ID), zap.Error(err))
				if st != nil {
					status = st
				}
			} else {
				status = st
			}
		}

		c.JSON(http.StatusCreated, status)
	}
}

func (s *Server) updateServerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		input := types.ToolServerConfig{Enabled: true}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		input.ID = c.Param("id")

		status, err := s.gateway.UpdateServer(c, &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func (s *Server) deregisterServerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.gateway.RemoveServer(c, c.Param("id")); err != nil {
			abortWithError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) serverStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := s.gateway.GetServerStatus(c.Param("id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func (s *Server) allStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, s.gateway.GetAllServerStatus())
	}
}

// connectServerHandler answers 502 when the server could not be reached; the body then
// carries the error status of the server.
func (s *Server) connectServerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := s.gateway.Connect(c, c.Param("id"))
		if err == nil {
			c.JSON(http.StatusOK, types.ConnectResponse{Status: status})
			return
		}
		if errors.Is(err, gateway.ErrServerNotFound) || errors.Is(err, gateway.ErrServerDisabled) {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusBadGateway, types.ConnectResponse{Status: status, Error: err.Error()})
	}
}

func (s *Server) disconnectServerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := s.gateway.Disconnect(c, c.Param("id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func (s *Server) proxyRequestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input types.ProxyRequest
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if input.Endpoint == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint is required"})
			return
		}

		resp, err := s.gateway.ProxyRequest(c, c.Param("id"), &input)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, resp)
		case errors.Is(err, gateway.ErrServerNotFound), errors.Is(err, gateway.ErrUnsupportedTransport):
			abortWithError(c, err)
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		}
	}
}
