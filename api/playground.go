package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/namnv2496/bytescript/internal/logger"
	"github.com/namnv2496/bytescript/internal/sandbox"
)

var playgroundUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// playgroundConn carries the worker protocol between one browser tab and at
// most one live sandbox session.
type playgroundConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	current *sandbox.Session
}

func (p *playgroundConn) write(v any) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.ws.WriteJSON(v)
}

// replace stops the running session, if any, and installs next.
func (p *playgroundConn) replace(next *sandbox.Session) {
	p.mu.Lock()
	prev := p.current
	p.current = next
	p.mu.Unlock()
	if prev != nil {
		prev.Stop()
		<-prev.Done()
	}
}

func (p *playgroundConn) stop() {
	p.mu.Lock()
	sess := p.current
	p.mu.Unlock()
	if sess != nil {
		sess.Stop()
	}
}

// playgroundHandler accepts {code} and {type:"STOP"} commands and streams the
// sandbox messages back as {type, payload}.
func (s *Server) playgroundHandler(c *gin.Context) {
	ws, err := playgroundUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("playground upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	log := logger.FromContext(s.logger, ctx)
	conn := &playgroundConn{ws: ws}
	defer conn.replace(nil)

	for {
		var cmd sandbox.Command
		if err := ws.ReadJSON(&cmd); err != nil {
			log.Debug("playground closed", zap.Error(err))
			return
		}
		switch {
		case cmd.Type == sandbox.StopCommand.Type:
			conn.stop()
		case cmd.Code != "":
			if limit := s.cfg.Executor.MaxCodeBytes; limit > 0 && len(cmd.Code) > limit {
				_ = conn.write(sandbox.NewMessage(sandbox.TypeError, "code exceeds size limit"))
				continue
			}
			conn.replace(nil)
			sess, err := s.exec.Open(ctx, cmd.Code)
			if err != nil {
				log.Error("playground session failed to start", zap.Error(err))
				_ = conn.write(sandbox.NewMessage(sandbox.TypeError, err.Error()))
				continue
			}
			conn.replace(sess)
			go func() {
				for m := range sess.Messages() {
					if err := conn.write(m); err != nil {
						sess.Stop()
					}
				}
			}()
		}
	}
}
