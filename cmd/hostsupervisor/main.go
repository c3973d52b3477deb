// Package main is the entry point for the HostSupervisor application.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"hostsupervisor/internal/bus"
	"hostsupervisor/internal/cache"
	"hostsupervisor/internal/config"
	"hostsupervisor/internal/deps"
	"hostsupervisor/internal/logger"
	"hostsupervisor/internal/network"
	"hostsupervisor/internal/platform"
	"hostsupervisor/internal/procrun"
	"hostsupervisor/internal/provision"
	"hostsupervisor/internal/service"
	"hostsupervisor/internal/sink"
	"hostsupervisor/internal/supervisor"
	"hostsupervisor/internal/workspace"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	flagConfigPath  string
	flagLoggingPath string

	cfg *config.Config
	lc  *logger.Config
)

const startupErrorLogDir = "log/supervisor"

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "conf/HostSupervisor/Supervisor.json", "Path to main configuration file")
	rootCmd.PersistentFlags().StringVar(&flagLoggingPath, "logging", "conf/HostSupervisor/Logging.json", "Path to logging configuration file")
	rootCmd.SilenceErrors = true
	rootCmd.PersistentPreRunE = initSupervisor

	rootCmd.AddCommand(runCmd, installCmd, provisionCmd, statusCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "hostsupervisor: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "hostsupervisor",
	Short:        "Provision, launch and supervise the MCP host service",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the supervisor until stopped",
	RunE:  doRun,
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install host dependencies if the lock file changed",
	RunE:  doInstall,
}

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Download the node runtime where it is not packaged",
	RunE:  doProvision,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the endpoint announced on the status bus",
	RunE:  doStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	// no config needed
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(*cobra.Command, []string) {
		fmt.Printf("HostSupervisor %s (built %s, %s/%s)\n", version, buildTime, runtime.GOOS, runtime.GOARCH)
	},
}

func initSupervisor(cmd *cobra.Command, _ []string) error {
	// When started by the service manager the cwd is not the install dir.
	// An absolute config path points three levels below it.
	if filepath.IsAbs(flagConfigPath) {
		base := filepath.Dir(filepath.Dir(filepath.Dir(flagConfigPath)))
		if err := os.Chdir(base); err != nil {
			err = fmt.Errorf("failed to chdir to %s: %w", base, err)
			service.ReportStartupError(err)
			return err
		}
	}

	if service.NewService(nil, service.Options{}).IsService() {
		logger.SetServiceMode(true)
	}

	var err error
	cfg, lc, err = config.LoadSplit(flagConfigPath, flagLoggingPath)
	if err == nil {
		err = cfg.Resolve()
	}
	if err != nil {
		service.ReportStartupError(err)
		service.WriteStartupErrorFile(startupErrorLogDir, "", err)
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logger.Init(*lc); err != nil {
		service.ReportStartupError(err)
		service.WriteStartupErrorFile(startupErrorLogDir, "", err)
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// consoleSink prints install progress for the one-shot commands.
type consoleSink struct{}

func (consoleSink) OnInstallLog(line string)   { fmt.Println(line) }
func (consoleSink) OnPortAssigned(port uint16) { fmt.Printf("port: %d\n", port) }
func (consoleSink) OnError(err error)          { fmt.Fprintf(os.Stderr, "error: %v\n", err) }

func (consoleSink) OnDownloadProgress(p sink.Progress) {
	if pct := p.Percent(); pct >= 0 {
		fmt.Printf("\r%s: %.1f%% (%.0f KiB/s)", p.Name, pct, p.BytesPerSec/1024)
		if p.Downloaded == p.Total {
			fmt.Println()
		}
	}
}

func newProvisioner(runner *procrun.Runner, s sink.Sink) *provision.Provisioner {
	log := logger.WithComponent("main")
	dial := network.DialerFunc(cfg.SOCKSProxy.Host, cfg.SOCKSProxy.Port)
	if dial != nil {
		log.Info().
			Str("socks_host", cfg.SOCKSProxy.Host).
			Int("socks_port", cfg.SOCKSProxy.Port).
			Msg("SOCKS proxy configured")
	}
	return provision.New(runner, network.HTTPClient(dial, 30*time.Second), s,
		provision.WithTimeouts(cfg.Timeouts.Probe, cfg.Timeouts.Stage))
}

func doInstall(cmd *cobra.Command, _ []string) error {
	defer logger.Close()

	store, err := cache.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open install cache: %w", err)
	}
	defer store.Close()

	inst := deps.New(cfg, platform.Current(), store, procrun.New(), consoleSink{})
	return inst.Install(cmd.Context())
}

func doProvision(cmd *cobra.Command, _ []string) error {
	defer logger.Close()

	bundles := platform.Current().RuntimeBundles(cfg, runtime.GOARCH)
	if len(bundles) == 0 {
		fmt.Println("nothing to provision on this platform")
		return nil
	}
	return newProvisioner(procrun.New(), consoleSink{}).EnsureAll(cmd.Context(), bundles)
}

func doStatus(*cobra.Command, []string) error {
	defer logger.Close()

	raw, err := bus.ReadWindow(cfg.BusPath())
	if err != nil {
		return fmt.Errorf("failed to read bus: %w", err)
	}
	msg, ok, err := bus.Decode(raw)
	if err != nil {
		return err
	}
	if !ok || msg.Port() == 0 {
		fmt.Println("host service: not running")
		return nil
	}
	st := supervisor.ServiceStatus{IP: msg.Listen.IP, Port: msg.Port()}
	if st.IP == "" {
		st.IP = supervisor.DefaultIP
	}
	fmt.Printf("host service: listening on %s\n", st.Endpoint())
	return nil
}

func doRun(*cobra.Command, []string) error {
	log := logger.WithComponent("main")
	log.Info().
		Str("version", version).
		Str("config", flagConfigPath).
		Str("logging", flagLoggingPath).
		Msg("Starting HostSupervisor")

	var reloadMu sync.Mutex
	reload := func() {
		reloadMu.Lock()
		defer reloadMu.Unlock()
		newLC, err := config.LoadLogging(flagLoggingPath)
		if err != nil {
			log.Error().Err(err).Msg("Failed to reload logging configuration")
			return
		}
		applyLogging(newLC)
	}

	svc := service.NewService(run, service.Options{OnReload: reload})
	if err := svc.Run(context.Background()); err != nil {
		log.Error().Err(err).Msg("Service exited with error")
		logger.Close()
		return err
	}

	log.Info().Msg("HostSupervisor stopped")
	logger.Close()
	return nil
}

func applyLogging(newLC *logger.Config) {
	log := logger.WithComponent("main")
	log.Info().Msg("Applying logging configuration changes")
	if err := logger.Init(*newLC); err != nil {
		log.Error().Err(err).Msg("Failed to update logging configuration")
		return
	}
	log.Info().Msg("Logging configuration updated")
}

func run(ctx context.Context) error {
	log := logger.WithComponent("main")
	strategy := platform.Current()

	store, err := cache.Open(cfg)
	if err != nil {
		service.WriteStartupErrorFile(filepath.Join(cfg.Paths.Log, "supervisor"), "", err)
		return fmt.Errorf("failed to open install cache: %w", err)
	}
	defer store.Close()

	sinks := sink.Multi{sink.NewLogSink("install")}
	fileSink, err := sink.NewFileSink(sink.FileSinkConfig{
		FilePath: filepath.Join(cfg.Paths.Log, "install", "install.log"),
	})
	if err != nil {
		log.Warn().Err(err).Msg("Install log file disabled")
	} else {
		defer fileSink.Close()
		sinks = append(sinks, fileSink)
	}
	ui := sink.NewAsync(sinks, 256)
	defer ui.Close()

	runner := procrun.New()
	sup := supervisor.New(supervisor.Options{
		Config:      cfg,
		Strategy:    strategy,
		Runner:      runner,
		Bus:         bus.New(cfg.BusPath(), strategy.ChmodBus),
		Sink:        ui,
		Workspace:   workspace.New(cfg, strategy),
		Installer:   deps.New(cfg, strategy, store, runner, ui),
		Provisioner: newProvisioner(runner, ui),
	})
	sup.RegisterReadyCallback(func(_ context.Context, ip string, port uint16) error {
		log.Info().Str("endpoint", supervisor.ServiceStatus{IP: ip, Port: port}.Endpoint()).Msg("Host service endpoint available")
		return nil
	})

	loggingWatcher, err := config.NewLoggingWatcher(flagLoggingPath, applyLogging)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create logging watcher, hot reload disabled")
	} else if err := loggingWatcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start logging watcher")
	} else {
		defer func() {
			log.Info().Msg("Stopping logging watcher")
			if err := loggingWatcher.Stop(); err != nil {
				log.Error().Err(err).Msg("Error stopping logging watcher")
			}
		}()
	}

	if err := sup.Start(ctx); err != nil {
		log.Error().Err(err).Str("launch_id", sup.LaunchID()).Msg("Host service did not start")
		service.WriteStartupErrorFile(filepath.Join(cfg.Paths.Log, "supervisor"), sup.LaunchID(), err)
	}

	<-ctx.Done()
	log.Info().Msg("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return sup.Close(shutdownCtx)
}
