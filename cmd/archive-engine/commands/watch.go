package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/archive-engine/cmd/archive-engine/ui"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/cache"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/ingest"
)

var watchCmd = &cobra.Command{
	Use:   "watch TASK_ID",
	Short: "Follow an ingestion task running in the API server",
	Long: `Follow the progress of a task started through the API. The server publishes
progress snapshots to Redis, so this requires cache.driver: redis.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid task id %q: %w", args[0], err)
	}
	if cfg.Cache.Driver != "redis" {
		return fmt.Errorf("watch requires cache.driver redis, got %q", cfg.Cache.Driver)
	}

	ch, err := cache.NewProgressChannel(cache.RedisConfig{
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		PoolSize: cfg.Cache.Redis.PoolSize,
		Prefix:   cfg.Cache.Redis.ChannelPrefix,
	})
	if err != nil {
		return fmt.Errorf("connect progress channel: %w", err)
	}
	defer ch.Close()

	// Subscribe before reading the latest snapshot so nothing published in
	// between is missed.
	messages, unsubscribe, err := ch.Subscribe(ctx, id.String())
	if err != nil {
		return err
	}
	defer unsubscribe()

	var bar *ui.RangeBar
	show := func(p ingest.Progress) {
		if bar == nil {
			bar = ui.NewRangeBar(p.Total, "Segmenting")
		}
		bar.Update(p.Current, p.CurrentRangeDescription)
	}

	var last ingest.Progress
	latest, err := ch.Latest(ctx, id.String())
	switch {
	case errors.Is(err, cache.ErrCacheMiss):
		ui.Info("Waiting for task %s...", id)
	case err != nil:
		return err
	default:
		if last, err = decodeProgress(latest); err != nil {
			return err
		}
		show(last)
	}

	for !last.Completed {
		select {
		case <-ctx.Done():
			if bar != nil {
				bar.Close()
			}
			ui.Newline()
			ui.Warning("Stopped watching; the task keeps running")
			return nil
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("progress subscription closed")
			}
			p, err := decodeProgress(msg)
			if err != nil {
				return err
			}
			if p.Current < last.Current {
				continue
			}
			last = p
			show(p)
		}
	}
	bar.Close()

	ui.Newline()
	printSummary(last, last.UpdatedAt.Sub(last.StartedAt))
	if last.Status != ingest.StatusCompleted {
		return fmt.Errorf("ingestion %s: %s", last.Status, last.Error)
	}
	return nil
}

func decodeProgress(data []byte) (ingest.Progress, error) {
	var p ingest.Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode progress snapshot: %w", err)
	}
	return p, nil
}
