package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/namnv2496/bytescript/internal/auth"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:  "bytescript",
		Usage: "run JavaScript submissions in sandboxes and grade them against test cases",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "path to the YAML config file",
				Sources: cli.EnvVars("BYTESCRIPT_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "start the HTTP and websocket server",
				Action: serveAction,
			},
			{
				Name:      "run",
				Usage:     "run a JavaScript file in a local sandbox and print its messages",
				ArgsUsage: "<file.js>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "input", Usage: "text exposed to the program as `input`"},
				},
				Action: runAction,
			},
			{
				Name:      "seed",
				Usage:     "load test cases from a YAML file into the database",
				ArgsUsage: "<testcases.yaml>",
				Action:    seedAction,
			},
			{
				Name:  "token",
				Usage: "issue a signed bearer token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "sub", Value: "admin", Usage: "user id"},
					&cli.StringFlag{Name: "role", Value: auth.RoleAdmin, Usage: "user role"},
					&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour, Usage: "token lifetime"},
				},
				Action: tokenAction,
			},
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
