package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koscakluka/ema-onsai/core/dialogue/fake"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func newFakeBackendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fake-backend",
		Short: "Run a dialogue backend that answers with canned replies",
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []fake.Option
			if viper.GetBool("plain-text") {
				opts = append(opts, fake.WithPlainText())
			}
			if seed := viper.GetUint64("seed"); seed != 0 {
				opts = append(opts, fake.WithSeed(seed))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runFakeBackend(ctx, viper.GetString("addr"), fake.NewServer(opts...))
		},
	}

	flags := cmd.Flags()
	flags.String("addr", ":8000", "Address to listen on")
	flags.Bool("plain-text", false, "Reply with plain text instead of speech markup")
	flags.Uint64("seed", 0, "Seed for reply selection (0 picks a random seed)")

	return cmd
}

func runFakeBackend(ctx context.Context, addr string, backend *fake.Server) error {
	httpServer := &http.Server{Addr: addr, Handler: backend.Handler()}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Str("addr", addr).Msg("Serving fake dialogue backend")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "fake backend failed")
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		log.Info().Int("requests", backend.RequestsServed()).Msg("Fake dialogue backend stopped")
		return nil
	})

	return eg.Wait()
}
