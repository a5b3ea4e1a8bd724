package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/normanking/talkingavatar/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the avatar with its HTTP and WebSocket API",
	Long: `Run the avatar until interrupted.

Routes:
  POST /api/v1/speak    {text, voice}            start speaking, returns at once
  POST /api/v1/send     {message, user_id, voice} chat, speak the reply, wait
  POST /api/v1/cancel                            stop the current session
  GET  /api/v1/status                            current avatar state
  GET  /api/v1/voices                            available and selected voices
  POST /api/v1/voice    {name}                   select the default voice
  GET  /api/v1/logs?limit=N                      recent log entries
  GET  /ws                                       state and event stream
  GET  /metrics                                  Prometheus metrics
  GET  /health

Examples:
  talkingavatar serve
  talkingavatar serve --addr 0.0.0.0:8765`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.logs.Close()

		srv, err := server.New(cfg.ServerOptions(), server.Deps{
			Avatar: a.avatar,
			Chat:   a.chat,
			Bus:    a.bus,
			Logs:   a.logs,
		}, a.logger)
		if err != nil {
			return err
		}

		a.logger.Info().
			Str("addr", cfg.Server.Addr).
			Str("engine", cfg.Speech.Engine).
			Str("voiceSource", cfg.Voice.Source).
			Str("chat", cfg.Chat.Provider).
			Msg("talkingavatar starting")

		g, gctx := errgroup.WithContext(ctx)

		// The loop runs until Shutdown closes it so teardown executes on it.
		g.Go(func() error {
			return a.avatar.Run(context.Background())
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.avatar.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			return srv.Start(gctx)
		})
		if a.catalog != nil {
			g.Go(func() error {
				return a.catalog.Watch(gctx)
			})
		}

		err = g.Wait()
		a.logger.Info().Msg("talkingavatar stopped")
		return err
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}
