package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jaakkos/idumb/internal/app"
	"github.com/jaakkos/idumb/internal/dashboard"
	"github.com/jaakkos/idumb/internal/hooks"
	"github.com/jaakkos/idumb/internal/metrics"
	"github.com/jaakkos/idumb/internal/tools/govern"
)

func serveCmd() *cobra.Command {
	var httpPort int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the governance tools over MCP stdio",
		Long: `Serve the governance tools to one host over stdio. With a non-zero HTTP port
the same tools are also served on /mcp (streamable HTTP) next to the read-only
status API (/api/state, /api/plans/{id}, /api/delegations, /health, /metrics)
and the host hooks (POST /hooks/{event}).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.close()
			port := rt.pol.HTTPPort()
			if cmd.Flags().Changed("http-port") {
				port = httpPort
			}
			return runServe(cmd.Context(), rt, port, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().IntVar(&httpPort, "http-port", 0, "HTTP port for /mcp and the status API (0 disables; default from config)")
	return cmd
}

// newMCPServer builds the MCP server with every governance tool registered.
func newMCPServer(rt *runtime, registry *app.SessionRegistry, m *metrics.Metrics) *server.MCPServer {
	logger := rt.logger
	lifecycle := &server.Hooks{}
	lifecycle.AddBeforeInitialize(func(ctx context.Context, id any, message *mcp.InitializeRequest) {
		if message == nil {
			return
		}
		ci := message.Params.ClientInfo
		fields := []zap.Field{zap.String("client", ci.Name), zap.String("version", ci.Version), zap.String("protocol", message.Params.ProtocolVersion)}
		if session := server.ClientSessionFromContext(ctx); session != nil {
			registry.TouchSession(session.SessionID())
			fields = append(fields, zap.String("session", session.SessionID()))
		}
		logger.Info("client initialized", fields...)
	})
	lifecycle.AddOnUnregisterSession(func(ctx context.Context, session server.ClientSession) {
		sid := session.SessionID()
		agent := registry.GetAgent(sid)
		registry.RemoveSession(sid)
		logger.Info("client session unregistered", zap.String("session", sid), zap.String("agent", agent))
	})

	s := server.NewMCPServer(
		"idumb",
		Version,
		server.WithInstructions(govern.InstructionsText()),
		server.WithToolHandlerMiddleware(govern.BannerMiddleware(rt.svc, registry)),
		server.WithHooks(lifecycle),
		server.WithResourceCapabilities(false, true),
		server.WithRecovery(),
	)
	govern.Register(s, rt.svc, registry, logger, govern.WithMetrics(m))
	return s
}

// newHTTPHandler serves streamable MCP on /mcp, the status API, and the host
// hooks on /hooks/{event} with the same envelope as `idumb hook`.
func newHTTPHandler(mcpServer *server.MCPServer, rt *runtime, registry *app.SessionRegistry, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	dashboard.NewHandler(rt.svc, registry, dashboard.WithMetrics(m)).RegisterRoutes(r)
	r.Handle("/mcp", server.NewStreamableHTTPServer(mcpServer))

	hh := hooks.New(rt.svc, rt.logger, hooks.WithMetrics(m))
	r.Post("/hooks/{event}", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		name := chi.URLParam(req, "event")
		ev, err := hooks.ParseEvent(name)
		if err != nil {
			rt.logger.Warn("unknown hook event", zap.String("hook", name))
			_ = hooks.PassThrough(req.Body, w)
			return
		}
		if err := hh.Serve(ev, req.Body, w); err != nil {
			rt.logger.Error("write hook response", zap.String("hook", name), zap.Error(err))
		}
	})
	return r
}

func runServe(ctx context.Context, rt *runtime, port int, stdin io.Reader, stdout io.Writer) error {
	logger := rt.logger
	logger.Info("starting",
		zap.String("version", Version),
		zap.String("workspace", rt.pol.WorkspaceRoot()),
		zap.String("state_dir", rt.pol.StateDir()),
		zap.String("backend", rt.pol.StateBackend()),
		zap.String("log_file", rt.pol.LogFile()))

	// keep running when the host daemonizes us
	signal.Ignore(syscall.SIGHUP)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	registry := app.NewSessionRegistry()
	m := metrics.New()
	mcpServer := newMCPServer(rt, registry, m)
	notifier := app.NewNotifier(rt.pol.SignalFilePath(), rt.svc, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return notifier.Run(gctx) })

	if port > 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			return fmt.Errorf("http listen: %w", err)
		}
		httpServer := &http.Server{
			Handler:           newHTTPHandler(mcpServer, rt, registry, m),
			ReadHeaderTimeout: 10 * time.Second,
		}
		logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
		g.Go(func() error {
			if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http shutdown", zap.Error(err))
			}
			return nil
		})
	}

	g.Go(func() error {
		// the host closing stdin ends the whole server
		defer cancel()
		logger.Info("stdio ready")
		err := server.NewStdioServer(mcpServer).Listen(gctx, stdin, stdout)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Info("stdio server stopped", zap.Error(err))
		}
		return nil
	})

	err := g.Wait()
	logger.Info("server stopped")
	return err
}
