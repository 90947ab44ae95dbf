package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/enhancer"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/fusion"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/hybrid"
)

type searchOptions struct {
	corpus    string
	mode      string
	topK      int
	algorithm string
	weight    float64
	filters   map[string]string
	noEnhance bool
	format    string
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	opts := searchOptions{weight: -1}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run one hybrid search and print the ranked results",
		Example: `  ragcore search --corpus docs.json "how to train a neural network"
  ragcore search --mode lexical -k 5 --filter category=ml "gradient descent"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, root, opts, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVar(&opts.corpus, "corpus", "", "JSON file of documents to search (defaults to the postgres store)")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "", "Search mode: lexical, semantic or hybrid")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", 0, "Number of results")
	cmd.Flags().StringVarP(&opts.algorithm, "algorithm", "a", "", "Fusion algorithm: rrf, combsum, borda or adaptive")
	cmd.Flags().Float64Var(&opts.weight, "semantic-weight", -1, "Fixed semantic weight in [0,1] (negative for adaptive)")
	cmd.Flags().StringToStringVar(&opts.filters, "filter", nil, "Exact metadata filter, e.g. --filter category=ml")
	cmd.Flags().BoolVar(&opts.noEnhance, "no-enhance", false, "Disable spell correction, expansion and intent detection")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text or json")

	return cmd
}

func runSearch(cmd *cobra.Command, root *rootOptions, opts searchOptions, query string) error {
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("unknown format %q", opts.format)
	}
	ctx := cmd.Context()

	a, err := buildApp(root.cfg, buildOptions{withSemantic: true})
	if err != nil {
		return err
	}
	defer a.Close()
	if _, err := a.loadCorpus(ctx, opts.corpus); err != nil {
		return err
	}

	req := hybrid.Request{
		Query:     query,
		Mode:      hybrid.Mode(opts.mode),
		TopK:      opts.topK,
		Algorithm: fusion.Algorithm(opts.algorithm),
		NoCache:   true,
	}
	if opts.weight >= 0 {
		w := opts.weight
		req.SemanticWeight = &w
	}
	if len(opts.filters) > 0 {
		req.Filters = make(map[string]any, len(opts.filters))
		for k, v := range opts.filters {
			req.Filters[k] = v
		}
	}
	if opts.noEnhance {
		req.Enhancement = &enhancer.Options{}
	}

	resp, err := a.orchestrator.Search(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	return printResponse(out, resp)
}

func printResponse(w io.Writer, resp *hybrid.Response) error {
	info := resp.QueryInfo
	fmt.Fprintf(w, "query: %q", info.Original)
	if info.Corrected != "" && info.Corrected != info.Original {
		fmt.Fprintf(w, " (corrected: %q)", info.Corrected)
	}
	fmt.Fprintf(w, "\nmode: %s", info.EffectiveMode)
	if info.DegradationCause != "" {
		fmt.Fprintf(w, " (requested %s, degraded: %s)", info.RequestedMode, info.DegradationCause)
	}
	if info.Intent != "" {
		fmt.Fprintf(w, "  intent: %s", info.Intent)
	}
	fmt.Fprintf(w, "  took: %.2fms\n\n", resp.Metrics.TotalMs)

	if len(resp.Results) == 0 {
		fmt.Fprintln(w, "no results")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tDOCUMENT\tSCORE\tMETHODS\tSNIPPET")
	for _, r := range resp.Results {
		methods := make([]string, 0, len(r.SearchMethods))
		for _, m := range r.SearchMethods {
			methods = append(methods, string(m))
		}
		fmt.Fprintf(tw, "%d\t%s\t%.4f\t%s\t%s\n", r.Rank, r.DocumentID, r.FusedScore, strings.Join(methods, "+"), snippet(r.Content, 60))
	}
	return tw.Flush()
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
