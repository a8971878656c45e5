package api

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/namnv2496/bytescript/internal/auth"
	"github.com/namnv2496/bytescript/internal/config"
	"github.com/namnv2496/bytescript/internal/executor"
	"github.com/namnv2496/bytescript/internal/model"
	"github.com/namnv2496/bytescript/internal/room"
	"github.com/namnv2496/bytescript/internal/sandbox"
	"github.com/namnv2496/bytescript/internal/storage"
)

// Executor runs code in sandboxes.
type Executor interface {
	Execute(ctx context.Context, req executor.ExecuteRequest) (*model.ExecutionResult, error)
	Open(ctx context.Context, code string) (*sandbox.Session, error)
}

// Deps are the collaborators of the HTTP server. Submissions and Hub are
// optional.
type Deps struct {
	Config      config.Config
	Executor    Executor
	TestCases   storage.TestCaseStore
	Submissions storage.SubmissionStore
	Hub         *room.Hub
	Verifier    *auth.Verifier
	Logger      *zap.Logger
}

type Server struct {
	cfg         config.Config
	exec        Executor
	testCases   storage.TestCaseStore
	submissions storage.SubmissionStore
	hub         *room.Hub
	verifier    *auth.Verifier
	logger      *zap.Logger
	engine      *gin.Engine
}

func NewServer(deps Deps) *Server {
	s := &Server{
		cfg:         deps.Config,
		exec:        deps.Executor,
		testCases:   deps.TestCases,
		submissions: deps.Submissions,
		hub:         deps.Hub,
		verifier:    deps.Verifier,
		logger:      deps.Logger,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.verifier == nil {
		s.verifier = auth.NewVerifier("")
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	route := gin.New()
	route.Use(gin.Recovery(), requestID(), accessLog(s.logger))
	route.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.Server.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", requestIDHeader},
		ExposeHeaders:    []string{requestIDHeader, submissionIDHeader},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	apiGroup := route.Group("/api")
	apiGroup.POST("/execute", s.requireAuth(false), s.executeHandler)
	apiGroup.POST("/test-runtime", s.testRuntimeHandler)
	apiGroup.GET("/playground/ws", s.requireAuth(false), s.playgroundHandler)
	apiGroup.GET("/submissions/:id", s.requireAuth(false), s.getSubmissionHandler)

	problems := apiGroup.Group("/problems/:problemId/testcases")
	problems.GET("", s.optionalAuth(), s.listTestCasesHandler)
	problems.POST("", s.requireAuth(true), s.createTestCaseHandler)
	problems.DELETE("/:id", s.requireAuth(true), s.deleteTestCaseHandler)

	if s.hub != nil {
		route.GET("/ws", s.requireAuth(false), gin.WrapF(s.hub.HandleConnections))
	}
	return route
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server started", zap.String("addr", s.cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}
