package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"loyaltyhub/internal/app"
	reportdomain "loyaltyhub/internal/service/report/domain"
)

func exportCmd() *cobra.Command {
	var (
		slug   string
		start  string
		end    string
		out    string
		upload bool
	)
	cmd := &cobra.Command{
		Use:   "export [customers|points]",
		Short: "Export tenant data as CSV to a file, stdout or S3",
		Example: `  loyaltyctl export customers --org demo --out customers.csv
  loyaltyctl export points --org demo --start 2026-01-01 --end 2026-01-31 --upload`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := reportdomain.Export(args[0])
			if !kind.Valid() {
				return fmt.Errorf("unknown export %q", args[0])
			}
			return withContainer(cmd, app.Options{}, func(ctx context.Context, c *app.Container) error {
				ctx, _, err := orgContext(ctx, c, slug)
				if err != nil {
					return err
				}
				if upload {
					location, err := c.Reports.Upload(ctx, kind, start, end)
					if err != nil {
						return err
					}
					fmt.Println(location)
					return nil
				}
				w := os.Stdout
				if out != "" {
					f, err := os.Create(out)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				return c.Reports.WriteCSV(ctx, kind, w, start, end)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&slug, "org", "", "organization slug")
	f.StringVar(&start, "start", "", "first day (YYYY-MM-DD), points export only")
	f.StringVar(&end, "end", "", "last day (YYYY-MM-DD), points export only")
	f.StringVarP(&out, "out", "o", "", "output file (default stdout)")
	f.BoolVar(&upload, "upload", false, "upload to the configured S3 bucket instead")
	return cmd
}
