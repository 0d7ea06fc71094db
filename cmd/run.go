package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wheelsup-data/flightschool-etl/internal/inference"
	"github.com/wheelsup-data/flightschool-etl/internal/model"
	"github.com/wheelsup-data/flightschool-etl/internal/pipeline"
	"github.com/wheelsup-data/flightschool-etl/internal/publish"
	"github.com/wheelsup-data/flightschool-etl/internal/snapshot"
	anthropicpkg "github.com/wheelsup-data/flightschool-etl/pkg/anthropic"
	"github.com/wheelsup-data/flightschool-etl/pkg/perplexity"
)

var runSnapshotID string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one full snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		// SIGINT seals a cancelled manifest instead of killing the run dirty.
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ledger, err := snapshot.NewLedger(cfg.Snapshot.LedgerPath, cfg.Snapshot.DataDir)
		if err != nil {
			return err
		}
		defer ledger.Close()

		chain, err := buildChain()
		if err != nil {
			return err
		}

		opts := pipeline.Options{Chain: chain}
		if cfg.Store.DatabaseURL != "" {
			pg, err := publish.NewPostgres(ctx, cfg.Store.DatabaseURL)
			if err != nil {
				return eris.Wrap(err, "connect store")
			}
			defer pg.Close()
			if err := pg.Migrate(ctx); err != nil {
				return eris.Wrap(err, "migrate store")
			}

			sinks := []publish.Sink{pg}
			if cfg.Search.MongoURI != "" {
				search, err := publish.NewMongo(ctx, cfg.Search)
				if err != nil {
					return eris.Wrap(err, "connect search index")
				}
				defer search.Close(context.Background())
				sinks = append(sinks, search)
			}
			opts.Publisher = publish.New(cfg.Publish, sinks...)
			opts.RejectionSink = pg
		} else {
			zap.L().Warn("no store configured, snapshot will not be published")
		}

		p, err := pipeline.New(cfg, ledger, opts)
		if err != nil {
			return err
		}

		result, err := p.Run(ctx, runSnapshotID)
		if err != nil {
			return err
		}

		fmt.Printf("snapshot:  %s\n", result.Manifest.SnapshotID)
		fmt.Printf("status:    %s\n", result.Manifest.Status)
		fmt.Printf("entities:  %d\n", len(result.Entities))
		fmt.Printf("manifest:  %s\n", result.ManifestPath)
		if result.PublishReport != nil {
			for name, sr := range result.PublishReport.Sinks {
				fmt.Printf("published: %s %d ok, %d failed\n", name, sr.Published, sr.Failed)
			}
		}

		if result.Manifest.Status != model.RunStatusSuccess {
			return eris.Errorf("run finished with status %s", result.Manifest.Status)
		}
		return nil
	},
}

// buildChain assembles the inference provider chain: Anthropic primary,
// Perplexity fallback when configured.
func buildChain() (*inference.Chain, error) {
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("anthropic.key is required")
	}

	registry := model.NewFieldRegistry(model.SchoolFieldSpecs())
	system := inference.BuildSystemPrompt(registry)

	providers := []inference.Provider{
		inference.NewAnthropicProvider(
			anthropicpkg.NewClient(cfg.Anthropic.Key),
			cfg.Anthropic.Model,
			cfg.Anthropic.MaxTokens,
			system,
		),
	}
	if cfg.Fallback.Key != "" {
		providers = append(providers, inference.NewPerplexityProvider(
			perplexity.NewClient(cfg.Fallback.Key,
				perplexity.WithBaseURL(cfg.Fallback.BaseURL),
				perplexity.WithModel(cfg.Fallback.Model),
			),
			cfg.Fallback.Model,
			int(cfg.Anthropic.MaxTokens),
			system,
		))
	}
	return inference.NewChain(providers...), nil
}

func init() {
	runCmd.Flags().StringVar(&runSnapshotID, "snapshot", "", "snapshot id (default SNAP-YYYYMMDD-HHMMSS from current time)")
	rootCmd.AddCommand(runCmd)
}
