// Package main is the CLI entry point for labmon.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/lab_mon/internal/config"
	"github.com/eliteGoblin/focusd/lab_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/lab_mon/internal/domain"
	"github.com/eliteGoblin/focusd/lab_mon/internal/infra"
	"github.com/eliteGoblin/focusd/lab_mon/internal/policy"
	"github.com/eliteGoblin/focusd/lab_mon/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "labmon",
	Short: "Lab exam monitor - reports forbidden apps and network access",
	Long: `labmon runs on a student machine during a lab exam. It registers with
the admin server, watches running processes and outbound connections,
and reports anything the lab policy forbids.

Events are kept in a local buffer until the server has acknowledged them.`,
	Version:      Version,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent in the foreground",
	Long: `Waits for the admin server, registers this machine with the lab and
then monitors until interrupted. With --bootstrap manual the operator is
asked before each retry.`,
	RunE: runRun,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the agent in the background",
	Long:  `Launches "labmon run" detached from the terminal with the same flags.`,
	RunE:  runStart,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one detection pass and print the result",
	Long: `Scans processes and connections once against the local policy and prints
what would be reported. Nothing is sent to the admin server.`,
	RunE: runScan,
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Upload buffered events now",
	Long:  `Sends every buffered event to the admin server using the client ID of the last registered agent.`,
	RunE:  runFlush,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check agent and server status",
	RunE:  runStatus,
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Show the effective detection policy",
	RunE:  runPolicy,
}

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage the encrypted credential store",
}

var secretsSetCmd = &cobra.Command{
	Use:   "set <key> [value]",
	Short: "Store a secret (reads the value from stdin when omitted)",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runSecretsSet,
}

var secretsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a stored secret",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretsGet,
}

var secretsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored secret keys",
	Args:  cobra.NoArgs,
	RunE:  runSecretsList,
}

var secretsRotateCmd = &cobra.Command{
	Use:   "rotate-key",
	Short: "Re-encrypt the credential store under a new key",
	Args:  cobra.NoArgs,
	RunE:  runSecretsRotate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath string
	overrides  flagOverrides
	jsonOutput bool
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	pf.StringVar(&overrides.serverURL, "server", "", "Admin server base URL")
	pf.StringVar(&overrides.labCode, "lab", "", "Lab code to register with")
	pf.StringVar(&overrides.clientName, "client-name", "", "Name reported to the admin server (default: hostname)")
	pf.StringVar(&overrides.classifier, "classifier", "", "Process classifier (static|ai)")
	pf.StringVar(&overrides.bootstrap, "bootstrap", "", "Startup mode when the server is unreachable (auto|manual)")
	pf.BoolVar(&overrides.debug, "debug", false, "Enable debug logging")

	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	secretsCmd.AddCommand(secretsSetCmd)
	secretsCmd.AddCommand(secretsGetCmd)
	secretsCmd.AddCommand(secretsListCmd)
	secretsCmd.AddCommand(secretsRotateCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(flushCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(secretsCmd)
	rootCmd.AddCommand(versionCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := mustLab(cfg); err != nil {
		return err
	}

	logger := createLogger(cfg.Logging)
	defer func() { _ = logger.Sync() }()

	if err := resolveCredential(cfg, logger); err != nil {
		logger.Error("cannot start in AI mode", zap.Error(err))
		return fmt.Errorf("%w: set LABMON_AI_API_KEY, classifier.api_key or run 'labmon secrets set %s'",
			err, infra.SecretAIKey)
	}

	// Set up graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := infra.NewAdminClient(cfg.Server.URL, cfg.Server.Timeout, logger)

	var operator domain.Operator
	if cfg.Bootstrap.Mode == config.BootstrapManual {
		operator = infra.NewTerminalOperator()
	}
	session, err := usecase.NewBootstrapper(client, operator, bootstrapConfig(cfg), logger).Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("interrupted before registration")
			return nil
		}
		logger.Error("bootstrap failed", zap.Error(err))
		return err
	}

	classifier, err := buildRegistry(cfg, logger).Build(cfg.Classifier.Mode, *session)
	if err != nil {
		return err
	}

	buffer, err := openBuffer(cfg)
	if err != nil {
		return fmt.Errorf("failed to open event buffer: %w", err)
	}

	dispatcher := usecase.NewDispatcher(buffer, client, cfg.Lab.Code, session, logger)
	seen := usecase.NewSeenSet(domain.DedupMode(cfg.Pollers.Dedup), cfg.Pollers.DedupCooldown, nil)

	procScanner := usecase.NewProcessScanner(infra.NewProcessLister(), classifier, seen, dispatcher, logger)
	netScanner := usecase.NewNetworkScanner(
		infra.NewConnectionLister(cfg.Pollers.LoopbackSkipped()),
		infra.NewDNSResolver(cfg.Server.Timeout),
		policy.NewAllowListClassifier(cfg.Policy.AllowedHosts),
		dispatcher,
		logger,
	)
	flusher := usecase.NewFlusher(buffer, client, session.ClientID, logger)

	state := infra.NewFileStateStore(cfg.DataDir)
	if err := state.Save(domain.AgentState{
		PID:       os.Getpid(),
		ClientID:  session.ClientID,
		LabCode:   cfg.Lab.Code,
		ServerURL: cfg.Server.URL,
		StartedAt: time.Now(),
	}); err != nil {
		logger.Warn("failed to record agent state", zap.String("path", state.Path()), zap.Error(err))
	}

	agent := daemon.NewAgent(agentConfig(cfg), procScanner, netScanner, client, flusher, session, logger).
		WithStateStore(state)
	return agent.Run(ctx)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := mustLab(cfg); err != nil {
		return err
	}
	// fail here rather than in a detached child nobody is watching
	if err := resolveCredential(cfg, zap.NewNop()); err != nil {
		return err
	}
	if cfg.Bootstrap.Mode == config.BootstrapManual {
		return errors.New("manual bootstrap needs a terminal; use 'labmon run --bootstrap manual'")
	}

	state := infra.NewFileStateStore(cfg.DataDir)
	if existing, _ := state.Load(); existing != nil && infra.IsRunning(cmd.Context(), existing.PID) {
		fmt.Printf("labmon is already running (pid %d)\n", existing.PID)
		return nil
	}

	path := configPath
	if path != "" {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	pid, err := daemon.StartDetached(path, overrides.passthrough()...)
	if err != nil {
		return err
	}

	fmt.Printf("labmon started (pid %d)\n", pid)
	fmt.Printf("Lab: %s  Server: %s\n", cfg.Lab.Code, cfg.Server.URL)
	fmt.Printf("Logs: %s\n", strings.Join(cfg.Logging.Output, ", "))
	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := createLogger(cfg.Logging)
	defer func() { _ = logger.Sync() }()

	if err := resolveCredential(cfg, logger); err != nil {
		return err
	}
	classifier, err := buildRegistry(cfg, logger).Build(cfg.Classifier.Mode, domain.Session{})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	reporter := usecase.NewPrintReporter(os.Stdout)
	seen := usecase.NewSeenSet(domain.DedupOnce, 0, nil)

	fmt.Println("\n=== Running Detection Scan ===")
	procResult := usecase.NewProcessScanner(infra.NewProcessLister(), classifier, seen, reporter, logger).ScanOnce(ctx)
	netResult := usecase.NewNetworkScanner(
		infra.NewConnectionLister(cfg.Pollers.LoopbackSkipped()),
		infra.NewDNSResolver(cfg.Server.Timeout),
		policy.NewAllowListClassifier(cfg.Policy.AllowedHosts),
		reporter,
		logger,
	).ScanOnce(ctx)

	total := len(procResult.Violations) + len(netResult.Violations)
	if total == 0 {
		fmt.Println("\nNo violations found.")
	}
	fmt.Printf("\nInspected %d processes (%dms), %d connections (%dms)\n",
		procResult.Inspected, procResult.DurationMs, netResult.Inspected, netResult.DurationMs)
	for _, e := range append(procResult.Errors, netResult.Errors...) {
		fmt.Printf("  error: %s\n", e)
	}
	fmt.Println("==============================")
	return nil
}

func runFlush(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := createLogger(cfg.Logging)
	defer func() { _ = logger.Sync() }()

	state, err := infra.NewFileStateStore(cfg.DataDir).Load()
	if err != nil {
		return err
	}
	if state == nil || state.ClientID == "" {
		return fmt.Errorf("%w: run 'labmon run' first", domain.ErrNotRegistered)
	}

	buffer, err := openBuffer(cfg)
	if err != nil {
		return err
	}
	serverURL := cfg.Server.URL
	if overrides.serverURL == "" && state.ServerURL != "" {
		serverURL = state.ServerURL
	}
	client := infra.NewAdminClient(serverURL, cfg.Server.Timeout, logger)

	n, err := usecase.NewFlusher(buffer, client, state.ClientID, logger).Flush(cmd.Context())
	if err != nil {
		return fmt.Errorf("flush failed, records kept in %s: %w", buffer.Path(), err)
	}
	fmt.Printf("Uploaded %d buffered events\n", n)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	fmt.Println("\n=== labmon Status ===")

	state, err := infra.NewFileStateStore(cfg.DataDir).Load()
	switch {
	case err != nil:
		fmt.Printf("Agent: UNKNOWN (%v)\n", err)
	case state == nil:
		fmt.Println("Agent: NEVER REGISTERED")
	default:
		if infra.IsRunning(ctx, state.PID) {
			fmt.Printf("Agent: RUNNING (pid %d)\n", state.PID)
		} else {
			fmt.Printf("Agent: NOT RUNNING (last pid %d)\n", state.PID)
		}
		fmt.Printf("Client ID: %s\n", state.ClientID)
		fmt.Printf("Lab: %s\n", state.LabCode)
		fmt.Printf("Started: %s\n", state.StartedAt.Format(time.RFC3339))
		if !state.LastHeartbeat.IsZero() {
			fmt.Printf("Last heartbeat: %s ago\n", time.Since(state.LastHeartbeat).Round(time.Second))
		}
	}

	probe := infra.NewAdminClient(cfg.Server.URL, cfg.Server.Timeout, zap.NewNop())
	if probe.Probe(ctx) {
		fmt.Printf("Server: REACHABLE (%s)\n", cfg.Server.URL)
	} else {
		fmt.Printf("Server: UNREACHABLE (%s)\n", cfg.Server.URL)
	}

	if buffer, err := infra.NewFileBuffer(cfg.Buffer.Path); err == nil {
		if n, err := buffer.Len(); err == nil {
			fmt.Printf("Buffered events: %d (%s)\n", n, buffer.Path())
		}
	}

	fmt.Println("=====================")
	return nil
}

func runPolicy(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	_ = resolveCredential(cfg, zap.NewNop())
	registry := buildRegistry(cfg, zap.NewNop())

	fmt.Println("\n=== Detection Policy ===")
	fmt.Printf("Classifier: %s (available: %s)\n", cfg.Classifier.Mode, strings.Join(registry.List(), ", "))
	fmt.Printf("Dedup: %s\n", cfg.Pollers.Dedup)

	printList := func(title string, items []string) {
		fmt.Printf("\n%s:\n", title)
		if len(items) == 0 {
			fmt.Println("  (none)")
		}
		for _, item := range items {
			fmt.Printf("  - %s\n", item)
		}
	}
	pol := cfg.DomainPolicy()
	printList("Forbidden applications", pol.ForbiddenNames)
	printList("Allowed hosts", pol.AllowedHostSubstrings)
	if cfg.Classifier.Mode == config.ClassifierAI {
		printList("Never sent to the AI classifier", pol.WhitelistNames)
	}

	fmt.Println("\n========================")
	return nil
}

func openStore() (*infra.CredentialStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return infra.OpenDefaultCredentialStore(cfg.DataDir)
}

func runSecretsSet(cmd *cobra.Command, args []string) error {
	value := ""
	if len(args) == 2 {
		value = args[1]
	} else {
		b, err := readAllTrimmed(cmd.InOrStdin())
		if err != nil {
			return err
		}
		value = b
	}
	if value == "" {
		return errors.New("empty secret value")
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SetSecret(args[0], value); err != nil {
		return err
	}
	fmt.Printf("Stored %q in %s\n", args[0], store.Path())
	return nil
}

func runSecretsGet(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	value, err := store.GetSecret(args[0])
	if err != nil {
		return err
	}
	fmt.Println(value)
	return nil
}

func runSecretsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	keys, err := store.ListSecrets()
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Println(k)
	}
	return nil
}

func runSecretsRotate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := infra.RotateCredentialKey(cfg.DataDir); err != nil {
		return err
	}
	fmt.Printf("Rotated key %s\n", infra.NewCredentialKeyring(cfg.DataDir).Path())
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("labmon %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
