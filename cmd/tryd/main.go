package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/buildmill/tryd/pkg/broker"
	"github.com/buildmill/tryd/pkg/buildset"
	"github.com/buildmill/tryd/pkg/engine"
	"github.com/buildmill/tryd/pkg/mailbox"
	"github.com/buildmill/tryd/pkg/trysched"
	"github.com/docker/go-units"
	"github.com/lmittmann/tint"
	"github.com/urfave/cli"
)

// Version contains the release version of the server, adhering to SemVer.
const Version = "0.1.0"

// SchedulerName tags the buildsets created by this master's try
// schedulers.
const SchedulerName = "try"

func main() {
	app := cli.NewApp()
	app.Name = "tryd"
	app.Usage = "accept try jobs and schedule them as buildsets"
	app.Version = Version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "addr, a",
			Value: "0.0.0.0:8412",
			Usage: "Host and port the userpass scheduler listens on",
		},
		cli.StringFlag{
			Name:  "config, c",
			Value: "config.yml",
			Usage: "Load configuration from `FILE`",
		},
	}
	app.Action = func(c *cli.Context) error {
		f, err := os.Open(c.String("config"))
		if err != nil {
			return fmt.Errorf("cannot parse configuration; %s", err)
		}
		defer f.Close()

		cfg, err := ParseConfig(c.String("addr"), f)
		if err != nil {
			return err
		}
		return run(cfg)
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *Config) error {
	logger := newLogger(cfg.LogLevel)
	start := time.Now()

	br := broker.NewBroker(logger)
	go br.ListenForClients()
	defer br.Stop()

	store := buildset.NewMemStore(br)
	eng := engine.NewCommandEngine(cfg.Builders, store, time.Duration(cfg.BuildTimeout), logger)
	store.OnCreate = eng.Run

	if cfg.Jobdir != "" {
		mbox, err := mailbox.New(cfg.Jobdir)
		if err != nil {
			return err
		}
		jobdir := trysched.NewJobdirScheduler(SchedulerName, cfg.BuilderNames(),
			mbox, store, time.Duration(cfg.PollInterval), logger)
		jobdir.Start()
		defer jobdir.Stop()
	}

	if cfg.Addr != "" {
		userpass := trysched.NewUserpassScheduler(SchedulerName, cfg.BuilderNames(),
			cfg.Addr, cfg.Credentials, store, br, logger)
		err := userpass.Start()
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err := userpass.Stop(ctx)
			if err != nil {
				logger.Error("userpass scheduler shutdown failed", "err", err)
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info("shutting down", "signal", s.String(),
		"uptime", units.HumanDuration(time.Since(start)))
	return nil
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		TimeFormat: time.TimeOnly,
	}))
}
