package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ppiankov/counters/internal/counters"
	"github.com/ppiankov/counters/internal/fact"
	"github.com/ppiankov/counters/internal/factindex"
	"github.com/ppiankov/counters/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func newEvaluateCmd() *cobra.Command {
	var save bool

	cmd := &cobra.Command{
		Use:   "evaluate [fact.json]",
		Short: "Match a single fact against the counter catalogue",
		Long:  "Reads one JSON fact (from a file argument, or stdin if omitted), runs it through the counter catalogue, and prints which counters it contributed to and how many it perturbed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := readFact(cmd, args)
			if err != nil {
				return err
			}

			producer, err := buildProducer(cmd)
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			m := metrics.New(reg)

			start := time.Now()
			result := producer.FactCounters(f, nil)
			elapsed := time.Since(start)

			contributing := 0
			affected := 0
			if result != nil {
				contributing = len(result.Contributing)
				affected = result.AffectedCount
			}
			m.ObserveFact(contributing, affected, elapsed)

			if save {
				ctx := cmd.Context()
				st, err := buildStore(ctx)
				if err != nil {
					return err
				}
				if err := st.SaveFact(ctx, f); err != nil {
					return fmt.Errorf("save fact: %w", err)
				}
				schema, err := loadIndexSchema(indexSchema)
				if err != nil {
					return fmt.Errorf("index schema: %w", err)
				}
				entries := factindex.Build(f, schema)
				if len(entries) > 0 {
					if err := st.SaveFactIndexList(ctx, entries); err != nil {
						return fmt.Errorf("save fact index: %w", err)
					}
				}
			}

			return writeEvaluateResult(cmd, f, result)
		},
	}

	cmd.Flags().BoolVar(&save, "save", false, "persist the fact and its index entries to the configured store")

	return cmd
}

type evaluateOutput struct {
	FactID        string   `json:"factId"`
	Contributing  []string `json:"contributing"`
	AffectedCount int      `json:"affectedCount"`
}

func writeEvaluateResult(cmd *cobra.Command, f *fact.Fact, result *counters.MatchResult) error {
	out := evaluateOutput{FactID: f.ID}
	if result != nil {
		out.AffectedCount = result.AffectedCount
		out.Contributing = make([]string, 0, len(result.Contributing))
		for _, d := range result.Contributing {
			out.Contributing = append(out.Contributing, d.Name)
		}
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func readFact(cmd *cobra.Command, args []string) (*fact.Fact, error) {
	var data []byte
	var err error
	if len(args) > 0 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return nil, fmt.Errorf("read fact: %w", err)
	}

	var f fact.Fact
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fact: %w", err)
	}
	return &f, nil
}
