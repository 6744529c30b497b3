package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/buildmill/tryd/pkg/tryclient"
	"github.com/buildmill/tryd/pkg/types"
	"github.com/google/uuid"
	"github.com/urfave/cli"
)

func main() {
	var (
		connect         string
		master          string
		username        string
		passwd          string
		jobdir          string
		branch          string
		revision        string
		patchLevel      int
		diff            string
		comment         string
		wait            bool
		getBuilderNames bool
		timeout         string
	)

	app := cli.NewApp()
	app.Name = "try"
	app.Usage = "deliver an uncommitted change to the try scheduler"
	app.HideVersion = true
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:        "connect",
			Usage:       "connect method: 'pb' (network) or 'ssh' (jobdir)",
			Destination: &connect,
			Value:       string(types.Pb),
		},
		cli.StringFlag{
			Name:        "master, m",
			Usage:       "host:port of the try scheduler (pb)",
			Destination: &master,
		},
		cli.StringFlag{
			Name:        "username, u",
			Usage:       "username to authenticate with (pb)",
			Destination: &username,
		},
		cli.StringFlag{
			Name:        "passwd",
			Usage:       "password to authenticate with (pb)",
			Destination: &passwd,
		},
		cli.StringFlag{
			Name:        "jobdir",
			Usage:       "jobdir root to write the job into (ssh)",
			Destination: &jobdir,
		},
		cli.StringFlag{
			Name:        "branch",
			Usage:       "branch the change is based on",
			Destination: &branch,
		},
		cli.StringFlag{
			Name:        "revision",
			Usage:       "revision the change is based on",
			Destination: &revision,
		},
		cli.IntFlag{
			Name:        "patch-level, p",
			Usage:       "patch level of the diff",
			Destination: &patchLevel,
			Value:       1,
		},
		cli.StringFlag{
			Name:        "diff",
			Usage:       "file containing the unified diff to try ('-' reads stdin)",
			Destination: &diff,
		},
		cli.StringSliceFlag{
			Name:  "builder, b",
			Usage: "builder to run the change on; can be given multiple times",
		},
		cli.StringFlag{
			Name:        "comment",
			Usage:       "comment to attach to the buildset",
			Destination: &comment,
		},
		cli.BoolFlag{
			Name:        "wait",
			Usage:       "wait until all builds finish and report their results",
			Destination: &wait,
		},
		cli.BoolFlag{
			Name:        "get-builder-names",
			Usage:       "list the builders available for the try scheduler and exit",
			Destination: &getBuilderNames,
		},
		cli.StringFlag{
			Name:        "timeout",
			Usage:       "time to wait for the builds to finish, accepts values as defined at https://golang.org/pkg/time/#ParseDuration",
			Destination: &timeout,
			Value:       "60m",
		},
	}
	app.Action = func(c *cli.Context) error {
		cfg := tryclient.Config{
			Connect:         types.ConnectMethod(connect),
			Master:          master,
			Username:        username,
			Password:        passwd,
			Jobdir:          jobdir,
			Wait:            wait,
			GetBuilderNames: getBuilderNames,
		}

		if timeout != "" {
			var err error
			cfg.Timeout, err = time.ParseDuration(timeout)
			if err != nil {
				return err
			}
		}

		var job *types.Job
		if !getBuilderNames {
			if revision == "" {
				return errors.New("revision cannot be empty")
			}
			if len(c.StringSlice("builder")) == 0 {
				return errors.New("at least one builder must be given")
			}

			job = &types.Job{
				ID: uuid.New().String(),
				SourceStamp: types.SourceStamp{
					Branch:   branch,
					Revision: revision,
				},
				BuilderNames: c.StringSlice("builder"),
				Comment:      comment,
			}

			if diff != "" {
				body, err := readDiff(diff)
				if err != nil {
					return err
				}
				job.Patch = &types.Patch{Level: patchLevel, Body: body}
			}
		}

		t, err := tryclient.New(cfg, job, os.Stdout)
		if err != nil {
			return err
		}
		return t.Run(context.Background())
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func readDiff(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}
