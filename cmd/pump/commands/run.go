package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"imagepump/internal/bootstrap"
	"imagepump/internal/codec"
	"imagepump/internal/delivery"
	"imagepump/internal/domain"
	"imagepump/internal/pipeline"
)

// RunAction queues every supported image in --dir, runs them through the
// provider and writes the results as zip archives under --out.
func RunAction(ctx context.Context, cmd *cli.Command) error {
	dir := cmd.String("dir")
	out := cmd.String("out")
	remote := strings.TrimSpace(cmd.String("remote"))

	opts := bootstrap.Options{DeliveryPath: out, Threshold: int(cmd.Int("threshold"))}
	if remote != "" {
		opts.Packager = delivery.NewHTTPPackager(remote, &http.Client{})
	}
	appCtx, err := NewAppContext(ctx, cmd.String("env"), opts)
	if err != nil {
		return err
	}
	defer appCtx.Close()
	deps := appCtx.Deps

	if prompt := strings.TrimSpace(cmd.String("prompt")); prompt != "" {
		if err := deps.Queue.SetDefaultPrompt(prompt); err != nil {
			return err
		}
	}

	queued, err := submitDir(deps, dir)
	if err != nil {
		return err
	}
	cfg := appCtx.runConfig(cmd.String("provider"), cmd.String("key"), cmd.String("model"), cmd.String("mode"))
	if queued == 0 && cfg.Mode != pipeline.ModeGenerate {
		return fmt.Errorf("no JPEG, PNG or WebP images found in %s", dir)
	}
	appCtx.Logger.Info().Int("queued", queued).Str("dir", dir).Msg("images queued")

	summary, err := deps.Orchestrator.Run(ctx, cfg)
	if err != nil {
		return err
	}
	renderSummary(summary)
	if summary.Succeeded == 0 {
		return nil
	}

	deps.Queue.SelectCompleted()
	res, err := deps.Deliverer.Deliver(ctx, deps.Queue, func(current, total int) {
		appCtx.Logger.Info().Int("batch", current).Int("total", total).Msg("delivering")
	})
	if err != nil {
		return err
	}
	renderArchives(deps.Store.BasePath(), res)
	return nil
}

// submitDir queues the supported images directly inside dir in name order.
func submitDir(deps *bootstrap.Components, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	queued := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return queued, err
		}
		mime := codec.DetectMIME(data)
		if !codec.SupportedMIME(mime) {
			deps.Logger.Debug().Str("file", entry.Name()).Str("mime", mime).Msg("skipping unsupported file")
			continue
		}
		if _, err := deps.Queue.Submit(entry.Name(), data, mime); err != nil {
			return queued, err
		}
		queued++
	}
	return queued, nil
}

func renderSummary(s domain.Summary) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Succeeded", "Failed", "Cancelled", "Total")
	table.Append(
		fmt.Sprintf("%d", s.Succeeded),
		fmt.Sprintf("%d", s.Failed),
		fmt.Sprintf("%d", s.Cancelled),
		fmt.Sprintf("%d", s.Total),
	)
	table.Render()
}

func renderArchives(root string, res delivery.Result) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Archive", "Images", "Bytes")
	for _, a := range res.Archives {
		table.Append(
			filepath.Join(root, filepath.FromSlash(a.Key)),
			fmt.Sprintf("%d", a.Items),
			fmt.Sprintf("%d", a.Bytes),
		)
	}
	table.Render()
}
