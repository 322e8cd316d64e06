package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"imagepump/cmd/pump/commands"
	"imagepump/internal/delivery"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "pump",
		Usage: "batch image editing through hosted and local image providers",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "process every image in a directory and write zip archives",
				Flags: []cli.Flag{
					envFlag(),
					providerFlag(),
					keyFlag(),
					modelFlag(),
					&cli.StringFlag{
						Name:     "dir",
						Usage:    "directory with JPEG, PNG or WebP images",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "prompt",
						Usage:    "prompt applied to every image",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "mode",
						Usage: "edit or generate",
					},
					&cli.StringFlag{
						Name:  "out",
						Usage: "directory receiving the archives",
						Value: "./out",
					},
					&cli.IntFlag{
						Name:  "threshold",
						Usage: "maximum encoded bytes per archive",
						Value: delivery.DefaultThreshold,
					},
					&cli.StringFlag{
						Name:  "remote",
						Usage: "download endpoint of a running API to build archives remotely",
					},
				},
				Action: commands.RunAction,
			},
			{
				Name:  "generate",
				Usage: "create one image from a prompt",
				Flags: []cli.Flag{
					envFlag(),
					providerFlag(),
					keyFlag(),
					modelFlag(),
					&cli.StringFlag{
						Name:     "prompt",
						Usage:    "text prompt",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "out",
						Usage: "output file",
						Value: "generated.png",
					},
				},
				Action: commands.GenerateAction,
			},
			{
				Name:  "keys",
				Usage: "manage stored provider keys",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "show providers and masked keys",
						Flags:  []cli.Flag{envFlag()},
						Action: commands.KeysListAction,
					},
					{
						Name:  "set",
						Usage: "store a key for a provider",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:     "provider",
								Usage:    "provider id",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "key",
								Usage:    "API key",
								Required: true,
							},
							&cli.BoolFlag{
								Name:  "select",
								Usage: "also make this the selected provider",
							},
						},
						Action: commands.KeysSetAction,
					},
					{
						Name:  "delete",
						Usage: "remove the key of a provider",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:     "provider",
								Usage:    "provider id",
								Required: true,
							},
						},
						Action: commands.KeysDeleteAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "path to an env file",
		Value: ".env",
	}
}

func providerFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "provider",
		Usage: "provider id (defaults to the selected provider)",
	}
}

func keyFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "key",
		Usage: "API key (defaults to the stored key)",
	}
}

func modelFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "model",
		Usage: "Gemini model override",
	}
}
