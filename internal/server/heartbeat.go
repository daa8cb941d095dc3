package server

import (
	"context"

	"github.com/gorilla/websocket"
)

// runHeartbeat pings every open connection each interval. A connection that
// has not answered the previous ping is terminated; the rest get a fresh ping
// and their liveness flag cleared until the pong arrives.
func (s *Server) runHeartbeat(ctx context.Context) {
	ticker := s.cfg.Clock.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	s.logger.Debug("heartbeat started", "interval", s.cfg.HeartbeatInterval.String())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.checkLiveness()
		}
	}
}

func (s *Server) checkLiveness() {
	for _, c := range s.snapshotConns() {
		if !c.alive.Swap(false) {
			if c.close(websocket.CloseGoingAway, "heartbeat timeout") {
				s.logger.Info("connection terminated after missed heartbeat",
					"connection_id", c.ID(),
					"source", c.source,
				)
				if s.cfg.Stats != nil {
					s.cfg.Stats.HeartbeatTimeout()
				}
			}
			continue
		}
		if err := c.ping(); err != nil {
			s.logger.Debug("heartbeat ping failed", "connection_id", c.ID(), "error", err)
		}
	}
}
