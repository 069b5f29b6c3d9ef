package cmd

import (
	"context"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/genbalink/genbalink/internal/config"
	"github.com/genbalink/genbalink/internal/signal"
	"github.com/genbalink/genbalink/internal/util"
)

func newRendezvousCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "rendezvous",
		Short: "Run the rendezvous relay server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := config.NewViper()
			bindRendezvousFlags(v, cmd)

			cfg := config.RendezvousFromViper(v)
			if cfg.Debug {
				util.EnableDebug()
			}

			ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := signal.NewServer(signal.ServerConfig{
				Addr:      cfg.Addr,
				RedisAddr: cfg.RedisAddr,
				JWTKey:    cfg.JWTKey,
			})
			return srv.Run(ctx)
		},
	}

	c.Flags().String("addr", ":8090", "listen address")
	c.Flags().String("redis", "", "optional redis address for presence bookkeeping")
	c.Flags().String("jwt-key", "", "optional HMAC key; when set, /ws requires a valid token")
	c.Flags().Bool("debug", false, "verbose logging")
	return c
}

func bindRendezvousFlags(v *viper.Viper, cmd *cobra.Command) {
	for _, name := range []string{"addr", "redis", "jwt-key", "debug"} {
		_ = v.BindPFlag(name, cmd.Flags().Lookup(name))
	}
}
