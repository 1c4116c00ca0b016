package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ent0n29/ragent/internal/app"
	"github.com/ent0n29/ragent/internal/retrieval"
)

type queryResult struct {
	Content   string  `json:"content"`
	Filename  string  `json:"filename"`
	Score     float64 `json:"score"`
	Page      int     `json:"page,omitempty"`
	PageLabel string  `json:"page_label,omitempty"`
}

type queryOutput struct {
	Success bool          `json:"success"`
	Results []queryResult `json:"results,omitempty"`
	Error   string        `json:"error,omitempty"`
}

func newQueryCmd() *cobra.Command {
	var (
		k      int
		output string
	)
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Search the template corpus directly",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "text" && output != "json" {
				return fmt.Errorf("unsupported output format %q", output)
			}
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			backend, err := app.NewRetrieval(cmd.Context(), cfg, logger)
			if err != nil {
				return writeQuery(cmd.OutOrStdout(), output, queryOutput{Error: err.Error()})
			}
			if k == 0 {
				k = cfg.RetrievalDefaultK
			}
			adapter := retrieval.NewAdapter(backend, cfg.AgentCallTimeout)
			res, err := adapter.Search(cmd.Context(), strings.Join(args, " "), k)
			if err != nil {
				if werr := writeQuery(cmd.OutOrStdout(), output, queryOutput{Error: err.Error()}); werr != nil {
					return werr
				}
				return err
			}
			return writeQuery(cmd.OutOrStdout(), output, toQueryOutput(res))
		},
	}
	cmd.Flags().IntVar(&k, "k", 0, "number of results (defaults to RETRIEVAL_DEFAULT_K)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	return cmd
}

func toQueryOutput(res retrieval.Result) queryOutput {
	out := queryOutput{Success: true, Results: make([]queryResult, 0, len(res.Hits))}
	for _, h := range res.Hits {
		out.Results = append(out.Results, queryResult{
			Content:   h.Excerpt,
			Filename:  h.Filename,
			Score:     h.Score,
			Page:      h.Page,
			PageLabel: h.PageLabel,
		})
	}
	return out
}

func writeQuery(w io.Writer, format string, out queryOutput) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	if !out.Success {
		_, err := fmt.Fprintln(w, "search failed:", out.Error)
		return err
	}
	if len(out.Results) == 0 {
		_, err := fmt.Fprintln(w, "no results")
		return err
	}
	for i, r := range out.Results {
		source := r.Filename
		if r.PageLabel != "" {
			source += " p." + r.PageLabel
		} else if r.Page > 0 {
			source += fmt.Sprintf(" p.%d", r.Page)
		}
		if _, err := fmt.Fprintf(w, "%d. [%.3f] %s\n   %s\n", i+1, r.Score, source, r.Content); err != nil {
			return err
		}
	}
	return nil
}
