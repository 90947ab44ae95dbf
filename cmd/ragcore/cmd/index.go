package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type indexOptions struct {
	corpus string
	store  bool
	format string
}

func newIndexCmd(root *rootOptions) *cobra.Command {
	opts := indexOptions{}

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the lexical index from a corpus and report its statistics",
		Long: `Index loads documents from a JSON file or the postgres document store,
builds the BM25 index and prints its statistics. With --store the documents
from --corpus are also written to the document store.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.corpus, "corpus", "", "JSON file of documents (defaults to the postgres store)")
	cmd.Flags().BoolVar(&opts.store, "store", false, "Upsert the --corpus documents into the postgres store")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text or json")

	return cmd
}

func runIndex(cmd *cobra.Command, root *rootOptions, opts indexOptions) error {
	ctx := cmd.Context()
	a, err := buildApp(root.cfg, buildOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.store {
		if opts.corpus == "" || a.docs == nil {
			return errors.New("--store needs --corpus and postgres.enabled")
		}
		docs, err := readDocuments(opts.corpus)
		if err != nil {
			return err
		}
		if err := a.docs.Upsert(ctx, docs...); err != nil {
			return fmt.Errorf("storing documents: %w", err)
		}
	}

	start := time.Now()
	n, err := a.loadCorpus(ctx, opts.corpus)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	stats := a.engine.Stats()

	out := cmd.OutOrStdout()
	if opts.format == "json" {
		return json.NewEncoder(out).Encode(map[string]any{
			"loaded":     n,
			"index":      stats,
			"elapsed_ms": float64(elapsed.Microseconds()) / 1000,
		})
	}
	fmt.Fprintf(out, "indexed %d documents in %s\n", n, elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "  documents:      %d\n", stats.Documents)
	fmt.Fprintf(out, "  terms:          %d\n", stats.Terms)
	fmt.Fprintf(out, "  total length:   %d\n", stats.TotalLength)
	fmt.Fprintf(out, "  avg doc length: %.2f\n", stats.AvgDocLength)
	fmt.Fprintf(out, "  longest doc:    %d\n", stats.LongestDocument)
	return nil
}
