package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/actiongraph/internal/action"
	"github.com/roach88/actiongraph/internal/ir"
	"github.com/roach88/actiongraph/internal/schema"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	MetricsAddr string
}

// Request is one line of serve input.
type Request struct {
	Kind  string      `json:"type"`
	Data  ir.IRObject `json:"data"`
	Actor string      `json:"actor,omitempty"`
}

// Response is one line of serve output.
type Response struct {
	Line     int         `json:"line"`
	ActionID string      `json:"actionId,omitempty"`
	Result   ir.IRObject `json:"result,omitempty"`
	Error    *CLIError   `json:"error,omitempty"`
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run Actions read as JSON lines from stdin",
		Long: `Read one Action request per line from stdin and run each in its own
transaction, writing one JSON response per line to stdout. Stops at end of
input or on SIGINT/SIGTERM.

When a metrics address is configured, Prometheus metrics are served on
/metrics for as long as the command runs.

Request:  {"type":"CreateFranchise","data":{"id":"mcu","name":"MCU"},"actor":"system"}
Response: {"line":1,"actionId":"...","result":{"id":"..."}}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "address for /metrics (overrides metrics_addr)")

	return cmd
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

func serve(opts *ServeOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	addr := opts.MetricsAddr
	if addr == "" {
		addr = a.cfg.MetricsAddr
	}
	if addr != "" {
		srv := &http.Server{Addr: addr, Handler: metricsHandler(a.metrics), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "addr", addr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown", "error", err)
			}
		}()
		slog.Info("serving metrics", "addr", addr)
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	enc := json.NewEncoder(cmd.OutOrStdout())
	n, committed, aborted := 0, 0, 0
	for done := false; !done; {
		select {
		case <-ctx.Done():
			done = true
		case line, ok := <-lines:
			if !ok {
				done = true
				break
			}
			n++
			if strings.TrimSpace(line) == "" {
				continue
			}
			resp := handleRequest(ctx, a, n, line)
			if resp.Error != nil {
				aborted++
			} else {
				committed++
			}
			if err := enc.Encode(resp); err != nil {
				return WrapExitError(ExitCommandError, "failed to write response", err)
			}
		}
	}

	select {
	case err := <-scanErr:
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read input", err)
		}
	default:
	}
	slog.Info("serve stopped", "lines", n, "committed", committed, "aborted", aborted)
	return nil
}

func handleRequest(ctx context.Context, a *app, line int, raw string) Response {
	var req Request
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return Response{Line: line, Error: &CLIError{Code: "BAD_REQUEST", Message: err.Error()}}
	}
	if req.Kind == "" {
		return Response{Line: line, Error: &CLIError{Code: "BAD_REQUEST", Message: "type is required"}}
	}

	res, err := a.runner.Run(ctx, a.actor(req.Actor), action.Input{Kind: req.Kind, Data: req.Data})
	if err != nil {
		message := err.Error()
		if msg, ok := schema.PublicMessage(err); ok {
			message = msg
		}
		return Response{Line: line, Error: &CLIError{Code: action.ErrorCode(err), Message: message}}
	}
	slog.Debug("request committed", "line", line, "kind", req.Kind, "action", res.ActionID)
	return Response{Line: line, ActionID: res.ActionID, Result: res.Data}
}
