// Command boxcheck is the offline consistency-check and repair tool,
// spec.md §6: `boxcheck <disc-set> <acct> [--fix] [--quiet]`. It takes the
// account's write lock for the duration of the run (pkg/session.Acquire),
// runs pkg/checker's six phases, and exits with a code reflecting the
// worst category found: 0 clean, 1 errors found and fixed, 2 errors present
// and not fixed, 3 unable to lock, 4 usage error.
//
// Grounded on the teacher's cmd/warren/main.go cobra root-command shape,
// scaled down to boxcheck's single-purpose argument list rather than a
// subcommand tree.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/boxvault/boxvault/pkg/account"
	"github.com/boxvault/boxvault/pkg/blog"
	"github.com/boxvault/boxvault/pkg/checker"
	"github.com/boxvault/boxvault/pkg/config"
	"github.com/boxvault/boxvault/pkg/ons"
	"github.com/boxvault/boxvault/pkg/registry"
	"github.com/boxvault/boxvault/pkg/session"
	"github.com/boxvault/boxvault/pkg/sos"
)

const (
	exitClean        = 0
	exitFixed        = 1
	exitUnfixed      = 2
	exitCouldNotLock = 3
	exitUsage        = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := rootCmd.Execute(); err != nil {
		if code, ok := err.(exitCode); ok {
			return int(code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}
	return lastExit
}

// exitCode lets RunE communicate a specific exit status without cobra
// printing its own usage text for what is otherwise a clean run.
type exitCode int

func (e exitCode) Error() string { return fmt.Sprintf("exit %d", int(e)) }

// lastExit holds the real exit code for the zero-error (clean/fixed/
// unfixed) cases, where RunE must return nil so cobra doesn't print usage.
var lastExit int

var rootCmd = &cobra.Command{
	Use:          "boxcheck <disc-set> <account-id>",
	Short:        "Check and repair one account's object store",
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		fix, _ := cmd.Flags().GetBool("fix")
		quiet, _ := cmd.Flags().GetBool("quiet")

		level := blog.InfoLevel
		if quiet {
			level = blog.ErrorLevel
		}
		blog.Init(blog.Config{Level: level})

		cfg, err := config.Load(configPath)
		if err != nil {
			lastExit = exitUsage
			return exitCode(exitUsage)
		}

		discSetName := args[0]
		var accountID uint64
		if _, err := fmt.Sscanf(args[1], "%d", &accountID); err != nil {
			fmt.Fprintf(os.Stderr, "invalid account id %q\n", args[1])
			lastExit = exitUsage
			return exitCode(exitUsage)
		}

		baseDiscSet, ok := cfg.DiscSetByName(discSetName)
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown disc set %q\n", discSetName)
			lastExit = exitUsage
			return exitCode(exitUsage)
		}

		root := registry.AccountRoot(cfg.ControlDir, accountID)
		discs := registry.ScopedDiscSet(baseDiscSet, accountID)

		keys, err := registry.LoadFileKeySource(cfg.MasterKeyPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load master keys: %v\n", err)
			lastExit = exitUsage
			return exitCode(exitUsage)
		}
		if _, err := keys.MasterKey(accountID); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			lastExit = exitUsage
			return exitCode(exitUsage)
		}

		lock, err := session.Acquire(ons.WriteLockPath(root), nil, session.DefaultMaxWaitForHousekeeping)
		if err != nil {
			fmt.Fprintf(os.Stderr, "could not lock account %d: %v\n", accountID, err)
			lastExit = exitCouldNotLock
			return exitCode(exitCouldNotLock)
		}
		defer lock.Release()

		state, err := account.Load(ons.InfoPath(root))
		if err != nil {
			fmt.Fprintf(os.Stderr, "load account state: %v\n", err)
			lastExit = exitUsage
			return exitCode(exitUsage)
		}

		store := sos.New(discs, cfg.BlockSize)
		ns := ons.New(cfg.SegmentBits)

		c := checker.New(store, ns, !fix)
		stats, err := c.Run(state)
		if err != nil {
			fmt.Fprintf(os.Stderr, "checker run failed: %v\n", err)
			lastExit = exitUsage
			return exitCode(exitUsage)
		}

		printReport(stats, fix)

		if stats.Errors == 0 {
			lastExit = exitClean
			return nil
		}
		if fix {
			lastExit = exitFixed
			return nil
		}
		lastExit = exitUnfixed
		return nil
	},
}

func printReport(stats checker.Stats, fix bool) {
	fmt.Printf("Objects scanned:     %d\n", stats.ObjectsScanned)
	fmt.Printf("Errors found:        %d\n", stats.Errors)
	fmt.Printf("Orphans reattached:  %d\n", stats.OrphansReattached)
	fmt.Printf("Container fixups:    %d\n", stats.ContainerFixups)
	fmt.Printf("Size fixups:         %d\n", stats.SizeFixups)
	switch {
	case stats.Errors == 0:
		fmt.Println("Result: clean")
	case fix:
		fmt.Println("Result: errors found and fixed")
	default:
		fmt.Println("Result: errors present, re-run with --fix to repair")
	}
}

func init() {
	rootCmd.Flags().String("config", "/etc/boxvault/boxcheck.yaml", "Path to the config file")
	rootCmd.Flags().Bool("fix", false, "Write fixes back to disk instead of only reporting")
	rootCmd.Flags().Bool("quiet", false, "Suppress informational logging")
}
