package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/kardianos/service"

	"github.com/Soika-Labs/gann-sdk-go/internal/agent"
	"github.com/Soika-Labs/gann-sdk-go/internal/config"
	"github.com/Soika-Labs/gann-sdk-go/internal/metrics"
)

const (
	serviceName        = "GannAgent"
	serviceDisplayName = "Gann Session Agent"
	serviceDescription = "Registers with the gann directory, maintains a signaling channel, and negotiates P2P sessions with peer agents"
)

// svcWrapper implements kardianos/service.Interface for background-service
// lifecycle (installed as a Windows service or a systemd unit).
type svcWrapper struct {
	cfg    *config.Config
	cancel context.CancelFunc
}

func (w *svcWrapper) Start(s service.Service) error {
	go w.run()
	return nil
}

func (w *svcWrapper) Stop(s service.Service) error {
	slog.Info("service stop requested")
	if w.cancel != nil {
		w.cancel()
	}
	return nil
}

func (w *svcWrapper) run() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	defer cancel()

	if err := runAgent(ctx, w.cfg); err != nil {
		slog.Error("agent exited with error", "error", err)
		os.Exit(1)
	}
}

func main() {
	var (
		configPath  = flag.String("config", "", "path to config file (default: "+config.DefaultConfigPath+")")
		doInstall   = flag.Bool("install", false, "install as a background service")
		doUninstall = flag.Bool("uninstall", false, "uninstall the background service")
		doRun       = flag.Bool("run", false, "run in foreground (non-service mode)")
	)
	flag.Parse()

	initLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil && !*doInstall && !*doUninstall {
		if service.Interactive() {
			fmt.Println()
			fmt.Println("  ===================================")
			fmt.Println("     Gann Agent - First Run Setup")
			fmt.Println("  ===================================")
			fmt.Println()

			cfg, err = runFirstTimeSetup(*configPath)
			if err != nil {
				fmt.Printf("\n  Setup failed: %v\n", err)
				fmt.Println("\n  Press Enter to exit...")
				bufio.NewReader(os.Stdin).ReadBytes('\n')
				os.Exit(1)
			}
		} else {
			slog.Error("failed to load config", "error", err)
			os.Exit(1)
		}
	}

	if cfg != nil {
		initLogger(cfg.LogLevel)
	}

	svcConfig := &service.Config{
		Name:        serviceName,
		DisplayName: serviceDisplayName,
		Description: serviceDescription,
		Arguments:   []string{},
	}

	wrapper := &svcWrapper{cfg: cfg}
	svc, err := service.New(wrapper, svcConfig)
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	switch {
	case *doInstall:
		if err := svc.Install(); err != nil {
			slog.Error("failed to install service", "error", err)
			os.Exit(1)
		}
		fmt.Println("Service installed successfully:", serviceName)
		return

	case *doUninstall:
		if err := svc.Stop(); err != nil {
			slog.Warn("failed to stop service (may not be running)", "error", err)
		}
		if err := svc.Uninstall(); err != nil {
			slog.Error("failed to uninstall service", "error", err)
			os.Exit(1)
		}
		fmt.Println("Service uninstalled successfully:", serviceName)
		return

	case *doRun:
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		slog.Info("starting agent in foreground mode")
		if err := runAgent(ctx, cfg); err != nil {
			slog.Error("agent exited with error", "error", err)
			os.Exit(1)
		}
		return

	default:
		if service.Interactive() {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			fmt.Println()
			fmt.Println("  Gann agent is running.")
			fmt.Println("  Press Ctrl+C to stop.")
			fmt.Println()

			if err := runAgent(ctx, cfg); err != nil {
				fmt.Printf("\n  Agent error: %v\n", err)
				fmt.Println("\n  Press Enter to exit...")
				bufio.NewReader(os.Stdin).ReadBytes('\n')
				os.Exit(1)
			}
		} else {
			if err := svc.Run(); err != nil {
				slog.Error("service run failed", "error", err)
				os.Exit(1)
			}
		}
	}
}

// runFirstTimeSetup runs an interactive console wizard when no config file
// exists, collecting the bootstrap token and control plane URL, writing the
// config, and returning a loaded Config ready to use.
func runFirstTimeSetup(configPath string) (*config.Config, error) {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("  This is your first time running the gann agent.")
	fmt.Println("  Let's get this machine registered with your directory.")
	fmt.Println()

	fmt.Println("  You need a bootstrap token from your directory dashboard.")
	fmt.Print("  Bootstrap Token: ")
	token, _ := reader.ReadString('\n')
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("bootstrap token is required")
	}

	controlPlaneURL := "https://directory.gann.dev"
	fmt.Printf("  Control Plane URL [%s]: ", controlPlaneURL)
	urlInput, _ := reader.ReadString('\n')
	urlInput = strings.TrimSpace(urlInput)
	if urlInput != "" {
		controlPlaneURL = urlInput
	}

	hostname, _ := os.Hostname()
	fmt.Printf("  Agent Name [%s]: ", hostname)
	nameInput, _ := reader.ReadString('\n')
	nameInput = strings.TrimSpace(nameInput)
	if nameInput != "" {
		hostname = nameInput
	}

	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath
	}

	fmt.Println()
	fmt.Printf("  Writing config to: %s\n", cfgPath)

	configContent := fmt.Sprintf(`# gann agent configuration
# Generated by first-run setup

control_plane_url: "%s"
bootstrap_token: "%s"
agent_name: "%s"
agent_kind: "worker"
stun_servers:
  - "stun.l.google.com:19302"
data_dir: "%s"
log_level: "info"
`, controlPlaneURL, token, hostname, config.DefaultDataDir)

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o700); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(cfgPath, []byte(configContent), 0o600); err != nil {
		return nil, fmt.Errorf("writing config file: %w", err)
	}

	fmt.Println("  Config saved!")
	fmt.Println()
	fmt.Println("  Starting agent...")

	return config.Load(cfgPath)
}

// runAgent performs the core agent lifecycle: register (or load a prior
// registration), open the signaling channel, start the heartbeat loop, and
// serve Prometheus metrics, until ctx is cancelled.
func runAgent(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting gann agent",
		"controlPlane", cfg.ControlPlaneURL,
		"agentName", cfg.AgentName,
	)

	ag := agent.New(cfg)
	if err := ag.Start(ctx); err != nil {
		return fmt.Errorf("starting agent: %w", err)
	}
	defer ag.Shutdown()

	metricsSrv := startMetricsServer(":9090")
	defer metricsSrv.Close()

	slog.Info("agent ready", "agentId", ag.AgentID())

	<-ctx.Done()
	slog.Info("agent shut down cleanly")
	return nil
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Warn("metrics server stopped", "error", err)
		}
	}()
	return srv
}

// initLogger configures the global slog logger at the given level.
func initLogger(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
