package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/veoclip/pkg/service/mcp"
	"github.com/m-mizutani/veoclip/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func mcpCommand() *cli.Command {
	var (
		cfg       config
		addr      string
		outputDir string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "http",
			Usage:       "Serve streamable HTTP on this address instead of stdio (e.g. 127.0.0.1:8080)",
			Sources:     cli.EnvVars("VEOCLIP_MCP_HTTP"),
			Destination: &addr,
		},
		&cli.StringFlag{
			Name:        "output-dir",
			Usage:       "Directory where generated videos are saved",
			Value:       ".",
			Sources:     cli.EnvVars("VEOCLIP_OUTPUT_DIR"),
			Destination: &outputDir,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, veoFlags(&cfg)...)

	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve video generation as MCP tools",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx)
			if err != nil {
				return err
			}

			s, _, cleanup, err := cfg.newStudio(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			srv := mcp.New(s, mcp.WithOutputDir(outputDir))

			if addr == "" {
				return srv.RunStdio(ctx)
			}
			return serveHTTP(ctx, addr, srv)
		},
	}
}

func serveHTTP(ctx context.Context, addr string, srv *mcp.Server) error {
	handler, err := srv.Handler()
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.From(ctx).Info("serving MCP over HTTP", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return goerr.Wrap(err, "failed to serve MCP", goerr.V("addr", addr))
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return goerr.Wrap(err, "failed to shutdown MCP server")
		}
		return nil
	}
}
