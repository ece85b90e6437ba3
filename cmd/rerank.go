package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"interview-coordinator/domain"
	"interview-coordinator/usecase/scoring"
)

var rerankJobID uint

var rerankCmd = &cobra.Command{
	Use:   "rerank",
	Short: "Recompute the ranking score of every application of a job",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		store, err := openStorage(cfg.Database, log)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.close()

		cache, closeCache := openRankingCache(ctx, cfg.Redis, log)
		defer closeCache()

		svc := scoring.NewService(store.sessions, store.applications, store.jobs, store.scores, cache, cfg.Pipeline.ConflictRetries, log)
		ranked, err := svc.RecomputeRankings(ctx, rerankJobID)

		var bulk *domain.BulkUpdateError
		if err != nil && !errors.As(err, &bulk) {
			return err
		}
		for i, r := range ranked {
			fmt.Fprintf(cmd.OutOrStdout(), "%3d. application %d\t%.1f\n", i+1, r.ApplicationID, r.RankingScore)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(rerankCmd)

	rerankCmd.Flags().UintVar(&rerankJobID, "job", 0, "job id to re-rank")
	_ = rerankCmd.MarkFlagRequired("job")
}
