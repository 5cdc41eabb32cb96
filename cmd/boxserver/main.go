// Command boxserver launches the store server: it accepts session-protocol
// connections (pkg/protocol), runs the background reclaim loop
// (pkg/housekeeping), and exposes health and metrics over HTTP
// (pkg/health). A second command group manages the account registry
// (pkg/registry) a running server consults on Login.
//
// Grounded on the teacher's cmd/warren/main.go: a cobra root command with
// persistent --log-level/--log-json flags initialized via cobra.OnInitialize,
// subcommands for administrative operations, and a long-running "serve"
// command that starts its background loops, blocks on an interrupt signal,
// then shuts them down in reverse order.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/boxvault/boxvault/pkg/blog"
	"github.com/boxvault/boxvault/pkg/config"
	"github.com/boxvault/boxvault/pkg/health"
	"github.com/boxvault/boxvault/pkg/housekeeping"
	"github.com/boxvault/boxvault/pkg/protocol"
	"github.com/boxvault/boxvault/pkg/registry"
	"github.com/boxvault/boxvault/pkg/sos"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "boxserver",
	Short:   "boxvault store server",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("boxserver version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("config", "/etc/boxvault/boxserver.yaml", "Path to the server config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(accountCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	blog.Init(blog.Config{Level: blog.Level(level), JSONOutput: jsonOut})
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the store server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		reg, err := registry.Open(cfg.RegistryPath)
		if err != nil {
			return fmt.Errorf("open registry: %w", err)
		}
		defer reg.Close()

		keys, err := registry.LoadFileKeySource(cfg.MasterKeyPath)
		if err != nil {
			return fmt.Errorf("load master keys: %w", err)
		}

		resolver := registry.NewResolver(reg, cfg.DiscSets, cfg.ControlDir, cfg.BlockSize, keys)

		protoServer := protocol.NewServer(resolver)

		hk := housekeeping.New(resolver, protoServer, cfg.HousekeepingInterval, cfg.RetentionWindow, cfg.MaxWaitForHousekeepingRelease, cfg.SegmentBits)
		hk.Start()
		defer hk.Stop()

		healthServer := health.NewServer(Version)
		for _, ds := range cfg.DiscSets {
			healthServer.Register("discset:"+ds.Name, health.NewDiscSetChecker(sos.FromConfig(ds)))
		}
		go func() {
			if err := healthServer.Start(cfg.HealthAddr); err != nil {
				blog.Logger.Error().Err(err).Msg("boxserver: health server stopped")
			}
		}()

		listener, err := net.Listen("tcp", cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
		}
		defer listener.Close()
		blog.Logger.Info().Str("addr", cfg.ListenAddr).Msg("boxserver: listening")

		go acceptLoop(listener, protoServer)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		blog.Logger.Info().Msg("boxserver: shutting down")
		return nil
	},
}

func acceptLoop(listener net.Listener, s *protocol.Server) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			blog.Logger.Warn().Err(err).Msg("boxserver: accept failed")
			return
		}
		go func() {
			defer conn.Close()
			if err := s.Serve(conn); err != nil {
				blog.Logger.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("boxserver: connection ended")
			}
		}()
	}
}

func init() {
	accountCmd.AddCommand(accountCreateCmd)
	accountCmd.AddCommand(accountListCmd)
	accountCmd.AddCommand(accountDeleteCmd)

	accountCreateCmd.Flags().Uint64("id", 0, "Account ID")
	accountCreateCmd.Flags().String("disc-set", "", "Disc set name this account lives on")
	accountCreateCmd.Flags().Uint64("soft-quota", 0, "Soft quota in blocks")
	accountCreateCmd.Flags().Uint64("hard-quota", 0, "Hard quota in blocks")
	accountCreateCmd.MarkFlagRequired("id")
	accountCreateCmd.MarkFlagRequired("disc-set")

	accountDeleteCmd.Flags().Uint64("id", 0, "Account ID")
	accountDeleteCmd.MarkFlagRequired("id")
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage the account registry",
}

var accountCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new account and bootstrap its on-disk store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		id, _ := cmd.Flags().GetUint64("id")
		discSetName, _ := cmd.Flags().GetString("disc-set")
		softQuota, _ := cmd.Flags().GetUint64("soft-quota")
		hardQuota, _ := cmd.Flags().GetUint64("hard-quota")

		if _, ok := cfg.DiscSetByName(discSetName); !ok {
			return fmt.Errorf("unknown disc set %q", discSetName)
		}

		reg, err := registry.Open(cfg.RegistryPath)
		if err != nil {
			return err
		}
		defer reg.Close()

		if err := reg.CreateAccount(registry.Account{
			AccountID:       id,
			DiscSetName:     discSetName,
			SoftQuotaBlocks: softQuota,
			HardQuotaBlocks: hardQuota,
		}); err != nil {
			return fmt.Errorf("create registry entry: %w", err)
		}

		keys, err := registry.LoadFileKeySource(cfg.MasterKeyPath)
		if err != nil {
			return fmt.Errorf("load master keys: %w", err)
		}
		resolver := registry.NewResolver(reg, cfg.DiscSets, cfg.ControlDir, cfg.BlockSize, keys)
		root, discs, blockSize, _, err := resolver.Resolve(id)
		if err != nil {
			return fmt.Errorf("resolve new account: %w", err)
		}
		if err := bootstrapAccount(id, root, discs, blockSize, softQuota, hardQuota); err != nil {
			return fmt.Errorf("bootstrap account store: %w", err)
		}

		fmt.Printf("Account %d created on disc set %q\n", id, discSetName)
		return nil
	},
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		reg, err := registry.Open(cfg.RegistryPath)
		if err != nil {
			return err
		}
		defer reg.Close()

		accounts, err := reg.ListAccounts()
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			fmt.Println("No accounts found")
			return nil
		}
		fmt.Printf("%-12s %-15s %-12s %-12s\n", "ID", "DISC SET", "SOFT QUOTA", "HARD QUOTA")
		for _, a := range accounts {
			fmt.Printf("%-12d %-15s %-12d %-12d\n", a.AccountID, a.DiscSetName, a.SoftQuotaBlocks, a.HardQuotaBlocks)
		}
		return nil
	},
}

var accountDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove an account from the registry",
	Long:  `Removes the registry entry only; the on-disk store is left for an operator to archive or destroy by hand.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		id, _ := cmd.Flags().GetUint64("id")

		reg, err := registry.Open(cfg.RegistryPath)
		if err != nil {
			return err
		}
		defer reg.Close()

		if err := reg.DeleteAccount(id); err != nil {
			return err
		}
		fmt.Printf("Account %d removed from registry\n", id)
		return nil
	},
}
