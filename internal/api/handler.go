// Package api is the HTTP control surface for the bot core: fleet
// start/stop, status snapshots, kill-switch flags, and a websocket feed
// of engine events.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/events"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/killswitch"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/manager"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/stream"
)

// Server wires HTTP endpoints around the bot manager.
type Server struct {
	Router  *gin.Engine
	Manager *manager.Manager
	Guard   *killswitch.Guard
	Streams *stream.Registry
	Bus     *events.Bus
	Version string
}

func NewServer(m *manager.Manager, guard *killswitch.Guard, streams *stream.Registry, bus *events.Bus, version string) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:  r,
		Manager: m,
		Guard:   guard,
		Streams: streams,
		Bus:     bus,
		Version: version,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/bots", s.listBots)
		api.POST("/bots/:id/start", s.startBot)
		api.POST("/bots/:id/stop", s.stopBot)
		api.GET("/bots/:id/status", s.botStatus)

		api.GET("/killswitch", s.getKillSwitch)
		api.POST("/killswitch", s.setKillSwitch)

		api.GET("/streams", s.listStreams)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.Version})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
