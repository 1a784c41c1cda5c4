package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mohammad-safakhou/pmmresearch/internal/research"
	"github.com/spf13/cobra"
)

func researchCMD(cfgPath *string) *cobra.Command {
	var (
		modeFlag string
		prompt   string
		asJSON   bool
		outPath  string
		noCache  bool
	)
	cmd := &cobra.Command{
		Use:   "research QUERY",
		Short: "Run one research query and print the report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := research.ParseMode(modeFlag)
			if err != nil {
				return err
			}
			a, err := loadApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()
			if a.cfg.General.MaxProcessingTime > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, a.cfg.General.MaxProcessingTime)
				defer cancel()
			}
			if err := a.buildPipeline(ctx); err != nil {
				return err
			}

			report := a.pipeline.Run(ctx, research.Request{
				Query:      strings.Join(args, " "),
				Mode:       mode,
				PromptName: prompt,
				SkipCache:  noCache,
			})

			if outPath != "" {
				if err := writeMarkdown(outPath, report); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "report written to %s\n", outPath)
			}
			if err := printReport(cmd.OutOrStdout(), report, asJSON); err != nil {
				return err
			}
			if r, ok := report.(*research.ErrorReport); ok {
				return fmt.Errorf("research failed: %s", r.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&modeFlag, "mode", "auto", "single_shot, three_stage, data_driven or auto")
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt document name")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report envelope as JSON")
	cmd.Flags().StringVar(&outPath, "out", "", "also write a Markdown export to this file (a directory gets a timestamped name)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the response cache lookup")
	return cmd
}

func printReport(w io.Writer, report research.Report, asJSON bool) error {
	if asJSON {
		data, err := research.EncodeReport(report)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	_, err := io.WriteString(w, research.RenderMarkdown(report))
	return err
}

func writeMarkdown(path string, report research.Report) error {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		path = filepath.Join(path, research.ExportFileName(time.Now()))
	}
	if err := os.WriteFile(path, []byte(research.RenderMarkdown(report)), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
