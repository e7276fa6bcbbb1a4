package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/evernode/sashimono-agent/pkg/config"
	"github.com/evernode/sashimono-agent/pkg/container"
	"github.com/evernode/sashimono-agent/pkg/contract"
	"github.com/evernode/sashimono-agent/pkg/fsservice"
	"github.com/evernode/sashimono-agent/pkg/instance"
	"github.com/evernode/sashimono-agent/pkg/localsocket"
	"github.com/evernode/sashimono-agent/pkg/metrics"
	"github.com/evernode/sashimono-agent/pkg/ports"
	"github.com/evernode/sashimono-agent/pkg/provision"
	"github.com/evernode/sashimono-agent/pkg/remote"
	"github.com/evernode/sashimono-agent/pkg/salog"
	"github.com/evernode/sashimono-agent/pkg/store"
	"github.com/evernode/sashimono-agent/pkg/supervisor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent for a single node's data directory",
	Long: `serve loads <data-dir>/sa.cfg, opens the instance store, and starts
the local control socket, the supervisor's health-reconciliation loop, the
metrics/health HTTP endpoint, and (when sa.cfg's remote host is set) the
hpws-carried remote session.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("data-dir", "", "Data directory containing sa.cfg, sa.sqlite, and sa.sock (required)")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the /metrics, /health, /ready, and /live endpoints")
	serveCmd.Flags().String("socket-group", "sashiadmin", "Unix group permitted to dial the local control socket")
	_ = serveCmd.MarkFlagRequired("data-dir")
}

func runServe(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	socketGroup, _ := cmd.Flags().GetString("socket-group")

	cfg, err := config.Read(filepath.Join(dataDir, "sa.cfg"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	paths := cfg.DerivePaths()

	st, err := store.Open(paths.SQLitePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	portAlloc, err := ports.New(st, cfg.HP.InitPeerPort, cfg.HP.InitUserPort)
	if err != nil {
		return fmt.Errorf("load port allocator: %w", err)
	}

	mgr := instance.New(
		instance.Config{
			MaxInstanceCount: cfg.System.MaxInstanceCount,
			InitPeerPort:     cfg.HP.InitPeerPort,
			InitUserPort:     cfg.HP.InitUserPort,
			TemplateDir:      cfg.ContractTemplatePath,
			HostAddress:      cfg.HP.HostAddress,
			MaxCPUUs:         cfg.System.MaxCPUUs,
			MaxMemKbytes:     cfg.System.MaxMemKbytes,
			MaxStorageKbytes: cfg.System.MaxStorageKbytes,
		},
		st,
		portAlloc,
		provision.New(cfg.UserInstallSh, cfg.UserUninstallSh),
		contract.Materialize,
		container.New(),
		fsservice.New(),
		fsservice.UpdateServiceConf,
	)

	containers := container.New()
	super := supervisor.New(st, containers, mgr, supervisor.LookupUID)
	superCtx, cancelSuper := context.WithCancel(context.Background())
	go super.Run(superCtx)
	salog.Info("supervisor started")

	metricsCollector := metrics.NewCollector(st, 15*time.Second)
	metricsCollector.Start()

	metrics.SetVersion(Version)
	metrics.RegisterComponent("store", true, "open")
	metrics.RegisterComponent("containers", true, "ready")
	metrics.RegisterComponent("localsocket", false, "initializing")

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			salog.Errorf("metrics server error: %v", err)
		}
	}()
	salog.WithComponent("serve").Info().Msgf("metrics endpoint: http://%s/metrics", metricsAddr)

	handler := func(ctx context.Context, data []byte) []byte {
		return remote.HandleRequest(ctx, mgr, st, data)
	}
	localSrv := localsocket.New(paths.SockPath, socketGroup, handler)
	if err := localSrv.Listen(); err != nil {
		return fmt.Errorf("listen on local control socket: %w", err)
	}
	socketCtx, cancelSocket := context.WithCancel(context.Background())
	go localSrv.Serve(socketCtx)
	metrics.RegisterComponent("localsocket", true, "listening")
	salog.Info("local control socket listening at " + paths.SockPath)

	var session *remote.Session
	if cfg.Remote.HostAddress != "" {
		sessionCtx, cancelSession := context.WithCancel(context.Background())
		defer cancelSession()
		session, err = remote.Dial(sessionCtx, cfg.HpwsExePath, cfg.Remote.HostAddress, cfg.Remote.Port, mgr, st)
		if err != nil {
			salog.Errorf("remote session dial failed: %v", err)
		} else {
			salog.Info("remote session connected to " + cfg.Remote.HostAddress)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	salog.Info("shutting down")

	cancelSuper()
	cancelSocket()
	_ = localSrv.Close()
	if session != nil {
		session.Close()
	}
	metricsCollector.Stop()

	return nil
}
