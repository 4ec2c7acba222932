package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tunesync/tunesync/internal/backend"
	"github.com/tunesync/tunesync/internal/config"
	"github.com/tunesync/tunesync/internal/executor"
	"github.com/tunesync/tunesync/internal/hashcache"
	"github.com/tunesync/tunesync/internal/planner"
	"github.com/tunesync/tunesync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync <left> <right>",
	Short: "Reconcile two music trees",
	Long: `Reconcile the left and right trees into a consistent state.

Each side is a local path or an adb endpoint:

  /absolute/or/relative/path
  adb://<absolute remote path>              (sole attached device)
  adb://device:<serial>/<absolute path>

The run indexes both sides, plans copy/delete actions over the sorted
union of paths, and applies them sequentially. Without --apply nothing
is modified; the dry run reports exactly what an apply run would do,
including hash-based equality checks.`,
	Args: cobra.ExactArgs(2),
	RunE: runSync,
}

func init() {
	f := syncCmd.Flags()
	def := config.Default()
	f.String("config", "", "config file (default: ./tunesync.yaml if present)")
	f.String("mode", def.Mode, "equality mode: quick or hash")
	f.String("conflict", def.Conflict, "conflict policy: newer, left, right, skip or duplicate")
	f.Bool("delete", false, "mirror delete files that exist on one side only (dry-run first!)")
	f.Bool("all", false, "sync all files, not just music and playlists")
	f.StringArray("exclude", nil, "extra exclude pattern (repeatable)")
	f.Bool("no-skip-hidden", false, "index hidden entries too")
	f.Bool("apply", false, "perform actions (default is dry run)")
	f.BoolP("verbose", "v", false, "narrate indexing and decisions")
	f.Bool("protect-left", false, "never overwrite or delete on the left side")
	f.Bool("protect-right", false, "never overwrite or delete on the right side")
	f.Bool("protect-android", false, "protect whichever side is an adb endpoint")
	f.String("cache", def.CachePath, "hash cache database file")
	f.Bool("rewrite-playlist", false, "rewrite playlist entries to bare filenames on copy")
	f.String("playlist-ext", def.PlaylistExts, "comma-separated playlist extensions")
	f.String("log-file", "", "append the run log to this file (rotated) instead of stderr")

	rootCmd.AddCommand(syncCmd)
}

// resolveConfig loads file/env configuration and overlays any flag the
// user set explicitly. Flags win over file and environment.
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	f := cmd.Flags()
	cfgFile, _ := f.GetString("config")
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, err
	}

	if f.Changed("mode") {
		cfg.Mode, _ = f.GetString("mode")
	}
	if f.Changed("conflict") {
		cfg.Conflict, _ = f.GetString("conflict")
	}
	if f.Changed("delete") {
		cfg.MirrorDelete, _ = f.GetBool("delete")
	}
	if f.Changed("all") {
		cfg.IncludeAll, _ = f.GetBool("all")
	}
	if extra, _ := f.GetStringArray("exclude"); len(extra) > 0 {
		cfg.Excludes = append(cfg.Excludes, extra...)
	}
	if f.Changed("no-skip-hidden") {
		noSkip, _ := f.GetBool("no-skip-hidden")
		cfg.SkipHidden = !noSkip
	}
	if f.Changed("apply") {
		cfg.Apply, _ = f.GetBool("apply")
	}
	if f.Changed("verbose") {
		cfg.Verbose, _ = f.GetBool("verbose")
	}
	if f.Changed("protect-left") {
		cfg.ProtectLeft, _ = f.GetBool("protect-left")
	}
	if f.Changed("protect-right") {
		cfg.ProtectRight, _ = f.GetBool("protect-right")
	}
	if f.Changed("protect-android") {
		cfg.ProtectAndroid, _ = f.GetBool("protect-android")
	}
	if f.Changed("cache") {
		cfg.CachePath, _ = f.GetString("cache")
	}
	if f.Changed("rewrite-playlist") {
		cfg.RewritePlaylist, _ = f.GetBool("rewrite-playlist")
	}
	if f.Changed("playlist-ext") {
		cfg.PlaylistExts, _ = f.GetString("playlist-ext")
	}
	if f.Changed("log-file") {
		cfg.LogFile, _ = f.GetString("log-file")
	}
	return cfg, nil
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	// Configuration errors surface before anything touches a device.
	mode := planner.Mode(cfg.Mode)
	policy := planner.ConflictPolicy(cfg.Conflict)
	if !mode.Valid() {
		return fmt.Errorf("unknown equality mode: %q", cfg.Mode)
	}
	if !policy.Valid() {
		return fmt.Errorf("%w: %q", planner.ErrUnknownConflictPolicy, cfg.Conflict)
	}

	leftEP, err := backend.ParseEndpoint(args[0])
	if err != nil {
		return err
	}
	rightEP, err := backend.ParseEndpoint(args[1])
	if err != nil {
		return err
	}
	leftB, err := leftEP.Connect()
	if err != nil {
		return err
	}
	rightB, err := rightEP.Connect()
	if err != nil {
		return err
	}

	protectLeft := cfg.ProtectLeft || (cfg.ProtectAndroid && leftEP.IsRemote())
	protectRight := cfg.ProtectRight || (cfg.ProtectAndroid && rightEP.IsRemote())
	dryRun := !cfg.Apply

	logger := log.New(logWriter(cfg.LogFile), "", log.LstdFlags)

	fmt.Printf("%s %s -> root=%s (backend=%s)\n", ui.RenderAccent("Left: "), leftEP.Raw, leftEP.Root, leftB.ID())
	fmt.Printf("%s %s -> root=%s (backend=%s)\n", ui.RenderAccent("Right:"), rightEP.Raw, rightEP.Root, rightB.ID())
	fmt.Printf("Mode: %s, Conflict: %s, Mirror delete: %v\n", mode, policy, cfg.MirrorDelete)
	fmt.Printf("Dry run: %v, Include all: %v, Skip hidden: %v\n", dryRun, cfg.IncludeAll, cfg.SkipHidden)
	fmt.Printf("Protect: left=%v, right=%v\n", protectLeft, protectRight)

	filter, err := backend.NewFilter(backend.FilterOptions{
		Excludes:     append(append([]string{}, backend.DefaultExcludes...), cfg.Excludes...),
		IncludeAll:   cfg.IncludeAll,
		SkipHidden:   cfg.SkipHidden,
		PlaylistExts: cfg.PlaylistExtSet(),
	})
	if err != nil {
		return err
	}

	// Setup-level failure: a cache that cannot open aborts the run
	// before any action executes.
	cache, err := hashcache.Open(cfg.CachePath)
	if err != nil {
		return err
	}
	defer cache.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Verbose {
		fmt.Println("-> indexing left...")
	}
	leftIdx, err := leftB.List(ctx, leftEP.Root, filter)
	if err != nil {
		return fmt.Errorf("indexing left: %w", err)
	}
	if cfg.Verbose {
		fmt.Printf("   left files: %d\n-> indexing right...\n", len(leftIdx))
	}
	rightIdx, err := rightB.List(ctx, rightEP.Root, filter)
	if err != nil {
		return fmt.Errorf("indexing right: %w", err)
	}
	if cfg.Verbose {
		fmt.Printf("   right files: %d\n", len(rightIdx))
	}

	actions, err := planner.Plan(leftIdx, rightIdx, mode, policy, cfg.MirrorDelete)
	if err != nil {
		return err
	}

	exec := executor.New(
		executor.Side{Backend: leftB, Root: leftEP.Root, Index: leftIdx, Protected: protectLeft},
		executor.Side{Backend: rightB, Root: rightEP.Root, Index: rightIdx, Protected: protectRight},
		cache,
		executor.Config{
			Mode:            mode,
			RewritePlaylist: cfg.RewritePlaylist,
			PlaylistExts:    cfg.PlaylistExtSet(),
			DryRun:          dryRun,
			Logger:          logger,
			Reporter:        &consoleReporter{verbose: cfg.Verbose, dryRun: dryRun},
		},
	)

	sum, err := exec.Run(ctx, actions)
	if err != nil {
		fmt.Printf("\n%s run cancelled\n", ui.RenderWarn("!"))
	}

	fmt.Printf("\nSummary: copy=%d, delete=%d, skip=%d, failed=%d (%s)\n",
		sum.Copies, sum.Deletes, sum.Skips, sum.Failures,
		humanize.Bytes(uint64(sum.BytesCopied)))
	if dryRun {
		fmt.Println(ui.RenderMuted("(dry run; use --apply to perform changes)"))
	}
	if sum.Failures > 0 {
		return fmt.Errorf("%d action(s) failed", sum.Failures)
	}
	return nil
}

// logWriter routes the run log to a rotated file when configured.
func logWriter(logFile string) io.Writer {
	if logFile == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
	}
}

// consoleReporter renders per-action outcomes for the terminal.
type consoleReporter struct {
	verbose bool
	dryRun  bool
}

func (r *consoleReporter) Action(a planner.Action, outcome executor.Outcome, detail string) {
	switch outcome {
	case executor.OutcomeCopied:
		fmt.Printf("%s %s -> %s\n", ui.RenderPass("[COPY]"), a.Src.Rel, detail)
	case executor.OutcomeDeleted:
		fmt.Printf("%s %s\n", ui.RenderWarn("[DELETE]"), detail)
	case executor.OutcomeFailed:
		fmt.Printf("%s %s: %s\n", ui.RenderFail("[FAIL]"), a.String(), detail)
	case executor.OutcomeSkipped:
		if r.verbose || r.dryRun {
			fmt.Printf("%s %s\n", ui.RenderMuted("[SKIP]"), detail)
		}
	}
}
