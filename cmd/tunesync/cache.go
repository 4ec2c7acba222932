package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tunesync/tunesync/internal/config"
	"github.com/tunesync/tunesync/internal/hashcache"
	"github.com/tunesync/tunesync/internal/ui"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Hash cache maintenance",
	Long: `Manage the content-hash cache database.

The cache stores one SHA-1 per (backend, root, path) together with the
size and modification time it was computed against. Stale rows are
detected at lookup time; clearing is only needed to reclaim space or
force full recomputation.`,
}

var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache location, size and row count",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("cache")

		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			fmt.Printf("%s cache not initialized (%s)\n", ui.RenderWarn("!"), path)
			fmt.Println("   it is created on the first sync that needs a hash")
			return nil
		}
		if err != nil {
			return err
		}

		cache, err := hashcache.Open(path)
		if err != nil {
			return err
		}
		defer cache.Close()

		rows, err := cache.Count(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", ui.RenderAccent("Cache:"), path)
		fmt.Printf("   Size: %s\n", humanize.Bytes(uint64(info.Size())))
		fmt.Printf("   Hashes: %d\n", rows)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all cached hashes",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("cache")
		cache, err := hashcache.Open(path)
		if err != nil {
			return err
		}
		defer cache.Close()

		if err := cache.Clear(context.Background()); err != nil {
			return err
		}
		fmt.Printf("%s cache cleared (%s)\n", ui.RenderPass("ok"), path)
		return nil
	},
}

func init() {
	cacheCmd.PersistentFlags().String("cache", config.Default().CachePath, "hash cache database file")
	cacheCmd.AddCommand(cacheStatusCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
