package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/betaylor73/wayside"
	"github.com/betaylor73/wayside/config"
	"github.com/betaylor73/wayside/exec"
	"github.com/betaylor73/wayside/obs"
	"github.com/betaylor73/wayside/runtime"
	"github.com/betaylor73/wayside/signal"
	"github.com/betaylor73/wayside/transport"
	"github.com/betaylor73/wayside/wire"
)

func newServeCmd() *cobra.Command {
	var (
		linkNetwork  string
		linkAddr     string
		debugAddr    string
		controlSize  int
		indicationSz int
		dialTimeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a controller against a dialed link",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), serveOptions{
				linkNetwork:    linkNetwork,
				linkAddr:       linkAddr,
				debugAddr:      debugAddr,
				controlSize:    controlSize,
				indicationSize: indicationSz,
				dialTimeout:    dialTimeout,
			})
		},
	}
	cmd.Flags().StringVar(&linkNetwork, "link-network", "tcp", "network to dial for the shared link: tcp or udp")
	cmd.Flags().StringVar(&linkAddr, "link-addr", "", "address to dial for the shared link (host:port)")
	cmd.Flags().StringVar(&debugAddr, "debug-addr", ":9100", "address to serve /status, /control and /metrics on")
	cmd.Flags().IntVar(&controlSize, "control-size", 64, "capacity of the materialized control signal set")
	cmd.Flags().IntVar(&indicationSz, "indication-size", 64, "capacity of the materialized indication signal set")
	cmd.Flags().DurationVar(&dialTimeout, "dial-timeout", 5*time.Second, "timeout for dialing the link")
	_ = cmd.MarkFlagRequired("link-addr")
	return cmd
}

type serveOptions struct {
	linkNetwork    string
	linkAddr       string
	debugAddr      string
	controlSize    int
	indicationSize int
	dialTimeout    time.Duration
}

// controllerRef breaks the construction cycle between exec.Executor (which
// needs an EventSink/ControlsSource) and runtime.Controller (which needs an
// Executor): it is handed to the executor as both, then pointed at the real
// controller once constructed, before any event reaches either.
type controllerRef struct {
	c *runtime.Controller
}

func (r *controllerRef) Submit(e wayside.Event)          { r.c.Submit(e) }
func (r *controllerRef) Materialized() signal.ControlSet { return r.c.Materialized() }
func (r *controllerRef) MessageReceived(station wayside.StationAddress, m wayside.Message) {
	r.c.MessageReceived(station, m)
}

func runServe(ctx context.Context, opts serveOptions) error {
	cfg, err := config.Load(configPathFlag)
	if err != nil {
		return fmt.Errorf("genisysctl: %w", err)
	}

	logger := charmlog.New(os.Stderr)
	logger.SetLevel(parseLogLevel(logLevelFlag))

	reg := prometheus.NewRegistry()
	sink := obs.MultiSink{obs.NewLogSink(logger), obs.NewPrometheusSink(reg)}

	conn, err := net.DialTimeout(opts.linkNetwork, opts.linkAddr, opts.dialTimeout)
	if err != nil {
		return fmt.Errorf("genisysctl: dialing link: %w", err)
	}
	defer conn.Close()

	codec := wire.NewCodec(
		signal.NewDefaultCodec[signal.Indication](opts.indicationSize),
		signal.NewDefaultCodec[signal.Control](opts.controlSize),
	)

	ref := &controllerRef{}
	clock := exec.NewProductionClock()
	scheduler := exec.NewProductionScheduler(clock)
	activity := exec.NewActivityTracker()

	execConfig := exec.Config{
		ResponseTimeout:       cfg.ResponseTimeout,
		RecallRetryDelay:      cfg.RecallRetryDelay,
		PollMinGap:            cfg.PollMinGap,
		ControlCoalesceWindow: cfg.ControlCoalesceWindow,
		SecurePolls:           cfg.SecurePolls,
	}

	// adapter and executor share both clock and activity tracker: the
	// adapter stamps each accepted reply's arrival against clock and
	// records it in activity before dispatch, and the executor compares
	// that against its own send timestamps (the same clock) to suppress a
	// response timeout that raced with the reply.
	adapter := transport.NewAdapter(conn, codec, ref, sink, activity, clock)
	executor := exec.NewExecutor(codec, adapter, clock, scheduler, ref, ref, sink, cfg.StationAddresses(), execConfig, activity)
	controller := runtime.New(cfg.StationAddresses(), opts.controlSize, executor, clock, logger, sink)
	ref.c = controller

	debugServer := newDebugServer(opts.debugAddr, controller, reg)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signals := make(chan os.Signal, 1)
	ossignal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	errs := make(chan error, 2)
	go func() { errs <- controller.Run(runCtx) }()
	go func() { errs <- adapter.ReadLoop() }()
	go func() {
		if err := debugServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("debug server stopped", "err", err)
		}
	}()

	controller.TransportUp()

	select {
	case sig := <-signals:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-errs:
		logger.Error("controller stopped", "err", err)
	case <-ctx.Done():
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = debugServer.Shutdown(shutdownCtx)
	return nil
}

func newDebugServer(addr string, controller *runtime.Controller, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, controller)
	})
	mux.HandleFunc("/control", func(w http.ResponseWriter, r *http.Request) {
		handleControl(w, r, controller)
	})
	return &http.Server{Addr: addr, Handler: mux}
}

type statusResponse struct {
	Status      string                    `json:"status"`
	GlobalState string                    `json:"global_state"`
	Slaves      map[string]slaveStatusDTO `json:"slaves"`
}

type slaveStatusDTO struct {
	Phase                 string `json:"phase"`
	AcknowledgmentPending bool   `json:"acknowledgment_pending"`
	ControlPending        bool   `json:"control_pending"`
	ConsecutiveFailures   uint32 `json:"consecutive_failures"`
}

func writeStatus(w http.ResponseWriter, controller *runtime.Controller) {
	snap := controller.Snapshot()
	resp := statusResponse{
		Status:      controller.Status().String(),
		GlobalState: snap.GlobalState.String(),
		Slaves:      make(map[string]slaveStatusDTO, len(snap.Slaves)),
	}
	for addr, s := range snap.Slaves {
		resp.Slaves[addr.String()] = slaveStatusDTO{
			Phase:                 s.Phase.String(),
			AcknowledgmentPending: s.AcknowledgmentPending,
			ControlPending:        s.ControlPending,
			ConsecutiveFailures:   s.ConsecutiveFailures,
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

type controlRequest struct {
	Deltas []struct {
		Index int    `json:"index"`
		Value string `json:"value"`
	} `json:"deltas"`
	Size int `json:"size"`
}

func handleControl(w http.ResponseWriter, r *http.Request, controller *runtime.Controller) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	size := req.Size
	if size == 0 {
		size = controller.Materialized().Size()
	}
	delta := signal.NewControlSet(size)
	for _, d := range req.Deltas {
		v, err := parseTri(d.Value)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		delta = delta.Set(d.Index, v)
	}
	controller.SubmitControlDelta(delta)
	w.WriteHeader(http.StatusAccepted)
}

func parseTri(s string) (signal.Tri, error) {
	switch s {
	case "TRUE":
		return signal.True, nil
	case "FALSE":
		return signal.False, nil
	case "DONT_CARE", "":
		return signal.DontCare, nil
	default:
		return 0, fmt.Errorf("genisysctl: unknown tri-state value %q", s)
	}
}

func parseLogLevel(s string) charmlog.Level {
	switch s {
	case "debug":
		return charmlog.DebugLevel
	case "warn":
		return charmlog.WarnLevel
	case "error":
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}
