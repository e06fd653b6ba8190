// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/evidence-engine/internal/report"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render a saved run without re-querying",
	Long: `Render reads a run file written by ask, pico, or search --save and prints
it in any output format. No network calls are made.`,
	Example: `  evidence-engine render --from runs/statins.yaml --format csl`,
	RunE:    runRender,
}

func init() {
	renderCmd.Flags().String("from", "", "run file to render (required)")
	renderCmd.Flags().String("format", report.FormatMarkdown, "output format: "+strings.Join(report.Formats, ", "))
	_ = renderCmd.MarkFlagRequired("from")

	rootCmd.AddCommand(renderCmd)
}

func runRender(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("from")
	format, _ := cmd.Flags().GetString("format")

	rf, err := report.ReadRunFile(path)
	if err != nil {
		return err
	}
	res, err := rf.Run()
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return report.Write(res, format, os.Stdout)
}
