package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "cratectl",
		Usage: "export and validate RO-Crates through a crategate server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Usage:   "API base URL",
				Value:   "http://localhost:8080/api/v1/ro-crate",
				Sources: cli.EnvVars("CRATECTL_URL"),
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "value of the api-key header",
				Sources: cli.EnvVars("CRATECTL_API_KEY"),
			},
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "poll deferred jobs until they finish",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "wait between two status requests",
				Value: defaultInterval,
			},
			&cli.IntFlag{
				Name:  "max-attempts",
				Usage: "give up polling after this many status requests (0 polls forever)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "export",
				Usage:     "export identifiers as an RO-Crate",
				ArgsUsage: "IDENTIFIER...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "format",
						Usage: "jsonld or zip",
						Value: "jsonld",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "write the crate to this file instead of stdout",
					},
					&cli.BoolFlag{Name: "with-levels-above", Usage: "include direct parents"},
					&cli.BoolFlag{Name: "with-levels-below", Usage: "include direct children"},
					&cli.BoolFlag{Name: "import-compatible", Usage: "drop server-computed properties"},
					&cli.BoolFlag{Name: "with-parents", Usage: "include parents of related objects"},
					&cli.BoolFlag{Name: "with-other-spaces", Usage: "follow relations into other spaces"},
				},
				Action: exportAction,
			},
			{
				Name:      "validate",
				Usage:     "validate an ro-crate-metadata.json file or a .zip crate",
				ArgsUsage: "FILE",
				Action:    validateAction,
			},
			{
				Name:      "status",
				Usage:     "show the status of a job",
				ArgsUsage: "JOB_ID",
				Action:    statusAction,
			},
			{
				Name:      "download",
				Usage:     "download an exported crate",
				ArgsUsage: "DOWNLOAD_URL",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "write the crate to this file instead of stdout",
					},
				},
				Action: downloadAction,
			},
		},
	}
}
