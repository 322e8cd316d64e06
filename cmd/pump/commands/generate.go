package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"imagepump/internal/bootstrap"
	"imagepump/internal/pipeline"
)

// GenerateAction creates one image from --prompt and writes it to --out.
func GenerateAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"), bootstrap.Options{})
	if err != nil {
		return err
	}
	defer appCtx.Close()

	cfg := appCtx.runConfig(cmd.String("provider"), cmd.String("key"), cmd.String("model"), string(pipeline.ModeGenerate))
	job, err := appCtx.Deps.Orchestrator.GenerateSingle(ctx, cfg, cmd.String("prompt"))
	if err != nil {
		return err
	}
	out := cmd.String("out")
	if err := writeFile(out, job.Result); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d bytes, %s)\n", out, len(job.Result), job.ResultMIME)
	return nil
}
