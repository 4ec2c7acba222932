// Command tunesync reconciles two music trees (local folders and/or
// Android devices over adb) according to a conflict policy.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	// Backend implementations register their endpoint schemes.
	_ "github.com/tunesync/tunesync/internal/backend/adb"
	_ "github.com/tunesync/tunesync/internal/backend/local"
)

// version is stamped at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "tunesync",
	Short: "Sync music folders between disk and Android devices",
	Long: `tunesync reconciles two file trees into a consistent state.

Either side may be a local folder or an Android device reached over adb:

  tunesync sync ~/Music "adb://storage/emulated/0/Music" --protect-android
  tunesync sync ~/Music "adb://device:R58M1234/storage/emulated/0/Music" --apply

Runs are dry by default; pass --apply to perform changes.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
