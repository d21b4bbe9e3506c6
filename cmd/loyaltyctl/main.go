// cmd/loyaltyctl/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"loyaltyhub/internal/app"
	"loyaltyhub/internal/pkg/bootstrap"
	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/tenant"
	"loyaltyhub/internal/tracing"
)

const serviceName = "loyaltyctl"

var configPath string

func main() {
	root := &cobra.Command{
		Use:          serviceName,
		Short:        "loyaltyctl - administration tool for loyaltyhub",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := bootstrap.Init(configPath)
			if err != nil {
				return err
			}
			logger.Init(serviceName, cfg.App.LogLevel, cfg.App.IsDevelopment())
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default $CONFIG_FILE or ./config.yaml)")

	root.AddCommand(migrateCmd())
	root.AddCommand(orgCmd())
	root.AddCommand(userCmd())
	root.AddCommand(tokenCmd())
	root.AddCommand(featureCmd())
	root.AddCommand(limitCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(exportCmd())

	if err := root.ExecuteContext(bootstrap.SignalContext()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withContainer 组装依赖，执行完毕后释放
func withContainer(cmd *cobra.Command, opts app.Options, fn func(ctx context.Context, c *app.Container) error) error {
	ctx := cmd.Context()
	cfg := bootstrap.GetCurrentConfig()

	tp, err := tracing.Init(tracing.Options{
		ServiceName: serviceName,
		Environment: cfg.App.Env,
		Endpoint:    cfg.Infra.Jaeger.Endpoint,
		SampleRatio: cfg.Infra.Jaeger.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	c, err := app.Build(ctx, cfg, serviceName, opts)
	if err != nil {
		return err
	}
	defer c.Close(context.Background())
	return fn(ctx, c)
}

// orgContext 把 --org 指定的租户放进 ctx
func orgContext(ctx context.Context, c *app.Container, slug string) (context.Context, *tenant.Organization, error) {
	if slug == "" {
		return nil, nil, fmt.Errorf("--org is required")
	}
	org, err := c.Tenants.FindBySlug(ctx, slug)
	if err != nil {
		return nil, nil, fmt.Errorf("organization %q: %w", slug, err)
	}
	return tenant.WithOrganization(ctx, org), org, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
