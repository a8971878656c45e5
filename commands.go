package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/namnv2496/bytescript/api"
	"github.com/namnv2496/bytescript/internal/auth"
	"github.com/namnv2496/bytescript/internal/config"
	"github.com/namnv2496/bytescript/internal/executor"
	"github.com/namnv2496/bytescript/internal/logger"
	"github.com/namnv2496/bytescript/internal/model"
	"github.com/namnv2496/bytescript/internal/room"
	"github.com/namnv2496/bytescript/internal/sandbox"
	"github.com/namnv2496/bytescript/internal/storage"
)

func loadConfig(cmd *cli.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if err := logger.Init(cfg.Logger); err != nil {
		return nil, nil, err
	}
	return cfg, logger.L(), nil
}

func newLauncher(ctx context.Context, cfg config.SandboxConfig, log *zap.Logger) (sandbox.Launcher, error) {
	if cfg.Launcher == "docker" {
		return sandbox.NewDockerLauncher(ctx, sandbox.DockerConfig{
			Image:    cfg.Image,
			Network:  cfg.Network,
			MemoryMB: cfg.MemoryMB,
			CPUQuota: cfg.CPUQuota,
		}, log)
	}
	log.Warn("local sandbox launcher runs user code on this host", zap.Bool("permission_model", cfg.PermissionFlag != ""))
	return sandbox.NewLocalLauncher(sandbox.LocalConfig{
		NodeBinary:     cfg.NodeBinary,
		MemoryMB:       cfg.MemoryMB,
		PermissionFlag: cfg.PermissionFlag,
	})
}

func newRuntime(launcher sandbox.Launcher, cfg config.SandboxConfig, log *zap.Logger) *sandbox.Runtime {
	return sandbox.NewRuntime(launcher, sandbox.Config{
		IdleTimeout:    cfg.IdleTimeout,
		PollInterval:   cfg.PollInterval,
		HardTimeout:    cfg.HardTimeout,
		StopGrace:      cfg.StopGrace,
		MaxOutputBytes: cfg.MaxOutputBytes,
	}, log)
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	launcher, err := newLauncher(ctx, cfg.Sandbox, log)
	if err != nil {
		return fmt.Errorf("init sandbox launcher: %w", err)
	}
	defer launcher.Close()

	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	var testCases storage.TestCaseStore = storage.NewTestCaseRepository(db)
	if cfg.Redis.Addr != "" {
		rdb, err := storage.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		testCases = storage.NewCachedTestCases(testCases, rdb, cfg.Redis.TTL, log)
		log.Info("test case cache enabled", zap.String("addr", cfg.Redis.Addr))
	}

	svc := executor.NewService(newRuntime(launcher, cfg.Sandbox, log), executor.DefaultRegistry(), executor.Options{
		CaseTimeout:   cfg.Executor.CaseTimeout,
		MaxConcurrent: cfg.Executor.MaxConcurrent,
	}, log)
	defer svc.StopAll()

	hub := room.NewHub(svc, log)
	go hub.Run(ctx)

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)
	if !verifier.Enabled() {
		log.Warn("auth disabled: jwtSecret is empty")
	}

	server := api.NewServer(api.Deps{
		Config:      *cfg,
		Executor:    svc,
		TestCases:   testCases,
		Submissions: storage.NewSubmissionRepository(db),
		Hub:         hub,
		Verifier:    verifier,
		Logger:      log,
	})
	return server.Run(ctx)
}

var messageColors = map[sandbox.MessageType]*color.Color{
	sandbox.TypeLog:    color.New(color.FgWhite),
	sandbox.TypeWarn:   color.New(color.FgYellow),
	sandbox.TypeError:  color.New(color.FgRed),
	sandbox.TypeTable:  color.New(color.FgCyan),
	sandbox.TypeStatus: color.New(color.Faint),
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return cli.Exit("missing <file.js>", 2)
	}
	code, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	launcher, err := newLauncher(ctx, cfg.Sandbox, log)
	if err != nil {
		return err
	}
	defer launcher.Close()

	sess, err := newRuntime(launcher, cfg.Sandbox, log).Start(ctx, sandbox.Request{
		Code:  string(code),
		Input: cmd.String("input"),
	})
	if err != nil {
		return err
	}
	for m := range sess.Messages() {
		c, ok := messageColors[m.Type]
		if !ok {
			c = color.New(color.Reset)
		}
		if m.Type == sandbox.TypeStatus {
			c.Printf("[%s]\n", m.Text())
			continue
		}
		c.Println(m.Text())
	}

	term := sess.Wait()
	summary := color.New(color.FgGreen, color.Bold)
	if term.Status != sandbox.StatusDone {
		summary = color.New(color.FgRed, color.Bold)
	}
	summary.Printf("%s in %s\n", term.Status, term.RunTime.Round(time.Millisecond))
	if term.Status != sandbox.StatusDone {
		return cli.Exit("", 1)
	}
	return nil
}

// seedFile is the YAML layout accepted by the seed command.
type seedFile struct {
	TestCases []model.TestCase `yaml:"testCases"`
}

func seedAction(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return cli.Exit("missing <testcases.yaml>", 2)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := storage.NewTestCaseRepository(db)
	for i := range file.TestCases {
		tc := &file.TestCases[i]
		if tc.ProblemID == "" {
			return fmt.Errorf("test case %d has no problemId", i)
		}
		if err := repo.Create(ctx, tc); err != nil {
			return err
		}
	}
	log.Info("seeded test cases", zap.Int("count", len(file.TestCases)))
	color.Green("seeded %d test cases", len(file.TestCases))
	return nil
}

func tokenAction(ctx context.Context, cmd *cli.Command) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)
	if !verifier.Enabled() {
		return cli.Exit("auth.jwtSecret is empty", 1)
	}
	token, err := verifier.Sign(cmd.String("sub"), cmd.String("role"), cmd.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
