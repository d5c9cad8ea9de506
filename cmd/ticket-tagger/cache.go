package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/ticket-tagger/pkg/cache"
	"github.com/Sternrassler/ticket-tagger/pkg/config"
)

func newCacheCmd(configPath *string) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache",
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached response from Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Cache.RedisURL == "" {
				return errors.New("cache clear needs a Redis store (set TAGGER_REDIS_URL)")
			}

			redisClient, err := connectRedis(cmd.Context(), cfg.Cache.RedisURL)
			if err != nil {
				return err
			}
			defer redisClient.Close()

			removed, err := cache.NewRedisStore(redisClient, cfg.Cache.TTL).ClearCount(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached responses\n", removed)
			return nil
		},
	}

	cacheCmd.AddCommand(clearCmd)
	return cacheCmd
}
