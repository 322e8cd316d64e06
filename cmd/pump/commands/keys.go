package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"imagepump/internal/bootstrap"
	"imagepump/internal/providers"
	"imagepump/internal/settings"
)

// KeysSetAction stores an API key for --provider and optionally selects it.
func KeysSetAction(ctx context.Context, cmd *cli.Command) error {
	provider := strings.ToLower(strings.TrimSpace(cmd.String("provider")))
	key := strings.TrimSpace(cmd.String("key"))
	if err := providers.ValidateCredential(provider, key); err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"), bootstrap.Options{})
	if err != nil {
		return err
	}
	defer appCtx.Close()

	selectIt := cmd.Bool("select")
	_, err = appCtx.Deps.Settings.Update(ctx, func(s *settings.Settings) {
		s.APIKeys[provider] = key
		if selectIt {
			s.SelectedProvider = provider
		}
	})
	if err != nil {
		return fmt.Errorf("save key: %w", err)
	}
	fmt.Printf("stored key for %s\n", provider)
	return nil
}

// KeysDeleteAction removes the stored key of --provider.
func KeysDeleteAction(ctx context.Context, cmd *cli.Command) error {
	provider := strings.ToLower(strings.TrimSpace(cmd.String("provider")))
	if !providers.Known(provider) {
		return fmt.Errorf("unknown provider %q", provider)
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"), bootstrap.Options{})
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if _, err := appCtx.Deps.Settings.Update(ctx, func(s *settings.Settings) {
		delete(s.APIKeys, provider)
	}); err != nil {
		return fmt.Errorf("delete key: %w", err)
	}
	fmt.Printf("removed key for %s\n", provider)
	return nil
}

// KeysListAction prints every provider with its masked key.
func KeysListAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"), bootstrap.Options{})
	if err != nil {
		return err
	}
	defer appCtx.Close()

	s := appCtx.Deps.Settings.Get().Masked()
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Provider", "Name", "Key", "Selected")
	for _, p := range providers.Catalog() {
		key := s.APIKeys[p.ID]
		if key == "" && p.CredentialOptional {
			key = "(optional)"
		}
		selected := ""
		if p.ID == s.SelectedProvider {
			selected = "*"
		}
		table.Append(p.ID, p.Name, key, selected)
	}
	table.Render()
	return nil
}
