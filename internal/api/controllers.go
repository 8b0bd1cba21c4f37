package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/manager"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/pkg/db"
)

type killSwitchRequest struct {
	Scope string `json:"scope" binding:"required,oneof=global user"`
	Owner string `json:"owner"`
	Value *bool  `json:"value" binding:"required"`
}

func (s *Server) listBots(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"bots": s.Manager.Statuses()})
}

func (s *Server) startBot(c *gin.Context) {
	id := c.Param("id")

	err := s.Manager.Start(c.Request.Context(), id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"id": id, "status": "running"})
	case errors.Is(err, manager.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown bot: " + id})
	case errors.Is(err, manager.ErrLiveUnsupported):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) stopBot(c *gin.Context) {
	id := c.Param("id")

	wasRunning, err := s.Manager.Stop(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// Stopping a bot that was not running still succeeds; the caller
	// learns it was a settle-only stop.
	c.JSON(http.StatusOK, gin.H{"id": id, "status": "stopped", "was_running": wasRunning})
}

func (s *Server) botStatus(c *gin.Context) {
	id := c.Param("id")

	status, ok := s.Manager.Status(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "bot not running: " + id})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) getKillSwitch(c *gin.Context) {
	ctx := c.Request.Context()
	owner := c.Query("owner")

	resp := gin.H{"global": s.Guard.Global(ctx)}
	if owner != "" {
		resp["owner"] = owner
		resp["owner_halted"] = s.Guard.ShouldHalt(ctx, owner)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) setKillSwitch(c *gin.Context) {
	var req killSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Scope == "user" && req.Owner == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner is required for user scope"})
		return
	}

	ctx := c.Request.Context()
	var err error
	if req.Scope == "global" {
		err = s.Guard.SetGlobal(ctx, *req.Value)
	} else {
		err = s.Guard.SetUser(ctx, req.Owner, *req.Value)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scope": req.Scope, "owner": req.Owner, "value": *req.Value})
}

func (s *Server) listStreams(c *gin.Context) {
	keys := s.Streams.ActiveKeys()
	streams := make([]gin.H, 0, len(keys))
	for _, k := range keys {
		streams = append(streams, gin.H{
			"exchange":    k.Exchange,
			"symbol":      k.Symbol,
			"interval":    k.Interval,
			"subscribers": s.Streams.SubscriberCount(k),
		})
	}
	c.JSON(http.StatusOK, gin.H{"streams": streams})
}
