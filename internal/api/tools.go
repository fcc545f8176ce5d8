package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/pkg/types"
)

// listToolsHandler lists every available tool, optionally only those of ?server=<id>.
func (s *Server) listToolsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		serverID := c.Query("server")
		tools := s.gateway.ListAllAvailableTools()
		if serverID == "" {
			c.JSON(http.StatusOK, tools)
			return
		}
		status, err := s.gateway.GetServerStatus(serverID)
		if err != nil {
			abortWithError(c, err)
			return
		}
		filtered := make([]types.AvailableTool, 0)
		for _, t := range tools {
			if t.ServerID == status.ServerID {
				filtered = append(filtered, t)
			}
		}
		c.JSON(http.StatusOK, filtered)
	}
}

func (s *Server) getToolHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := s.gateway.GetServerStatus(c.Param("id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		name := c.Param("name")
		for _, t := range s.gateway.ListAllAvailableTools() {
			if t.ServerID == status.ServerID && t.Tool.Name == name {
				c.JSON(http.StatusOK, t)
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "tool " + name + " not found on server " + status.ServerID})
	}
}

// callToolHandler always answers 200; the outcome of the call is described by the result.
func (s *Server) callToolHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input types.ToolCallRequest
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if input.ServerID == "" || input.ToolName == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "server_id and tool_name are required"})
			return
		}
		c.JSON(http.StatusOK, s.gateway.CallTool(c, input.ServerID, input.ToolName, input.Arguments))
	}
}

func (s *Server) batchCallHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input types.BatchCallRequest
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		batchID := uuid.NewString()
		s.logger.Debug("running batch tool call", zap.String("batch_id", batchID), zap.Int("calls", len(input.Calls)))
		results := s.gateway.CallToolsBatch(c, input.Calls)
		c.JSON(http.StatusOK, types.BatchCallResponse{BatchID: batchID, Results: results})
	}
}
