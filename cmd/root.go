// Package cmd implements apfsck's command-line surface: a single
// Cobra command that checks one container image and prints at most one
// report line, in the shape the teacher's own cmd package builds its
// commands (flags registered on the root command in init, Execute as the sole
// entry point).
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/apfsck/internal/config"
	"github.com/deploymenttheory/apfsck/internal/container"
	"github.com/deploymenttheory/apfsck/internal/logging"
	"github.com/deploymenttheory/apfsck/internal/report"
)

var (
	tier2Path    string
	reportCrash  bool
	reportUnkFlg bool
	reportWeird  bool
	configPath   string
	logLevel     string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "apfsck <device>",
	Short: "Check an APFS container for on-disk consistency",
	Long: `apfsck is a read-only consistency checker for Apple File System
containers. It resolves the most recent committed checkpoint, walks
every volume's catalog, and reconciles the measured state against the
container and volume superblocks' own bookkeeping, printing a single
report line and exiting nonzero on the first inconsistency found.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.Flags().StringVar(&tier2Path, "tier2", "", "path to the Fusion tier-2 device, if any")
	rootCmd.Flags().BoolVarP(&reportCrash, "crash", "c", false, "report crash signatures as fatal")
	rootCmd.Flags().BoolVarP(&reportUnkFlg, "unknown", "u", false, "report unsupported features as fatal")
	rootCmd.Flags().BoolVarP(&reportWeird, "weird", "w", false, "report weird-but-harmless findings as fatal")
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to an apfsck config file")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "operator log level (debug, info, warn, error)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print a one-line summary after a clean run")
}

// Execute runs the root command and terminates the process with the
// checker's exit code: 0 on a clean run, 1 on the first fatal finding
// or a command-line usage error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	thresholds := report.Thresholds{
		Crash:   reportCrash || cfg.ReportCrash,
		Unknown: reportUnkFlg || cfg.ReportUnknown,
		Weird:   reportWeird || cfg.ReportWeird,
	}

	level := logLevel
	if level == "" {
		level = cfg.LogLevel
	}
	log := logging.New(level)

	devicePath := args[0]
	log.Debugf("checking %s", devicePath)

	result, checkErr := container.Check(devicePath, tier2Path, thresholds, log)
	if line, fatal := thresholds.Check("", checkErr); fatal {
		fmt.Println(line)
		os.Exit(1)
	}

	if verbose && result != nil {
		fmt.Printf("clean: container %s, %d volume(s) checked\n", result.Superblock.NxUuid, len(result.Volumes))
	}
	return nil
}
