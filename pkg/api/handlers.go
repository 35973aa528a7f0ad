package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/code3hr/cyxchat-sub000/pkg/engine"
	"github.com/code3hr/cyxchat-sub000/pkg/protocol"
)

// HealthResponse reports liveness
type HealthResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Node    string `json:"node"`
}

// StatusResponse wraps the engine's state snapshot
type StatusResponse struct {
	Success bool         `json:"success"`
	Stats   engine.Stats `json:"stats"`
}

// MessageResponse wraps one tracked message
type MessageResponse struct {
	Success bool               `json:"success"`
	Message engine.MessageInfo `json:"message"`
}

// QueueStatsResponse wraps offline queue statistics
type QueueStatsResponse struct {
	Success bool                   `json:"success"`
	Stats   map[string]interface{} `json:"stats"`
}

// TransfersResponse lists active file transfers
type TransfersResponse struct {
	Success   bool                  `json:"success"`
	Count     int                   `json:"count"`
	Transfers []engine.TransferInfo `json:"transfers"`
}

// GroupsResponse lists joined groups
type GroupsResponse struct {
	Success bool               `json:"success"`
	Count   int                `json:"count"`
	Groups  []engine.GroupInfo `json:"groups"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(c *gin.Context) {
	var node string
	s.run(func() {
		node = s.engine.Self().String()
	})

	c.JSON(http.StatusOK, HealthResponse{
		Success: true,
		Status:  "healthy",
		Node:    node,
	})
}

// handleStatus handles GET /api/v1/engine/status
func (s *Server) handleStatus(c *gin.Context) {
	var stats engine.Stats
	s.run(func() {
		stats = s.engine.Stats()
	})

	c.JSON(http.StatusOK, StatusResponse{Success: true, Stats: stats})
}

// handleMessage handles GET /api/v1/engine/messages/:id
func (s *Server) handleMessage(c *gin.Context) {
	msgID, err := protocol.ParseMessageID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid message ID"})
		return
	}

	var info engine.MessageInfo
	var found bool
	s.run(func() {
		info, found = s.engine.MessageByID(msgID)
	})

	if !found {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Message not tracked"})
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Success: true, Message: info})
}

// handleQueueStats handles GET /api/v1/queue/stats
func (s *Server) handleQueueStats(c *gin.Context) {
	var stats map[string]interface{}
	var err error
	s.run(func() {
		stats, err = s.engine.QueueStats()
	})

	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Queue unavailable"})
		return
	}
	c.JSON(http.StatusOK, QueueStatsResponse{Success: true, Stats: stats})
}

// handleTransfers handles GET /api/v1/transfers
func (s *Server) handleTransfers(c *gin.Context) {
	var infos []engine.TransferInfo
	s.run(func() {
		infos = s.engine.TransferInfos()
	})

	c.JSON(http.StatusOK, TransfersResponse{
		Success:   true,
		Count:     len(infos),
		Transfers: infos,
	})
}

// handleGroups handles GET /api/v1/groups
func (s *Server) handleGroups(c *gin.Context) {
	var infos []engine.GroupInfo
	s.run(func() {
		infos = s.engine.GroupInfos()
	})

	c.JSON(http.StatusOK, GroupsResponse{
		Success: true,
		Count:   len(infos),
		Groups:  infos,
	})
}
