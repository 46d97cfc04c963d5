package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/psantana5/interpreter-runtime/pkg/logging"
	"github.com/psantana5/interpreter-runtime/pkg/rpc"
	"github.com/psantana5/interpreter-runtime/pkg/shutdown"
)

type options struct {
	host       string
	port       int
	properties string
	logLevel   string
	id         string
}

// NewCommand returns the worker entrypoint
func NewCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "interpreter-worker",
		Short:         "Serve code-execution capabilities to the interpreter runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.host, "host", "127.0.0.1", "Address to listen on")
	cmd.Flags().IntVar(&opts.port, "port", 0, "Port to listen on")
	cmd.Flags().StringVar(&opts.properties, "properties", "{}", "Setting properties as a JSON object")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&opts.id, "id", "", "Process id assigned by the runtime")
	cmd.MarkFlagRequired("port")

	return cmd
}

// Main runs the worker command with args and returns the exit code
func Main(args []string) int {
	cmd := NewCommand()
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "interpreter-worker: %v\n", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, opts *options) error {
	if ctx == nil {
		ctx = context.Background()
	}

	properties := map[string]string{}
	if err := json.Unmarshal([]byte(opts.properties), &properties); err != nil {
		return fmt.Errorf("failed to parse --properties: %w", err)
	}

	logger := logging.NewLogger(logging.ParseLevel(opts.logLevel), false)
	logger.SetOutput(os.Stderr)
	logger = logger.WithComponent("worker")
	if opts.id != "" {
		logger = logger.WithField("process_id", opts.id)
	}

	svc := NewService(Env{Properties: properties, LookupEnv: os.LookupEnv}, logger)

	router := mux.NewRouter()
	rpc.NewHandler(svc, logger).RegisterRoutes(router)

	addr := net.JoinHostPort(opts.host, strconv.Itoa(opts.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	mgr := shutdown.New(5*time.Second, logger)
	mgr.Register("capabilities", shutdown.CloseResource(svc, "capabilities"))
	mgr.Register("rpc", shutdown.StopHTTPServer(server, "rpc"))

	serveErr := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	go func() {
		select {
		case <-svc.ShutdownRequested():
			mgr.Trigger()
		case err, ok := <-serveErr:
			if ok && err != nil {
				logger.Error("RPC server failed", map[string]interface{}{"error": err.Error()})
			}
			mgr.Trigger()
		case <-mgr.Done():
		}
	}()

	logger.Info("Worker listening", map[string]interface{}{
		"addr":         listener.Addr().String(),
		"pid":          os.Getpid(),
		"capabilities": Names(),
	})

	err = mgr.WaitWithContext(ctx)
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return mgr.Shutdown()
	}
	return err
}
