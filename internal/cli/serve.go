package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/user/chorus/internal/api"
	"github.com/user/chorus/internal/config"
	"github.com/user/chorus/internal/hub"
	"github.com/user/chorus/internal/server"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and websocket chat server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := wireApp(cmd, v)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.cfg.EnsureToken(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, hubInst := newServer(app)
			go hubInst.Run(ctx)
			go announceSeats(ctx, app, hubInst)

			fmt.Fprintf(cmd.OutOrStdout(), "\nchorus running at http://%s?token=%s\n\n", app.cfg.Addr(), app.cfg.Token)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().String("host", "", "listen host")
	cmd.Flags().Int("port", 0, "listen port")
	cmd.Flags().String("token", "", "API and websocket token")
	bindFlags(v, cmd.Flags(), map[string]string{
		config.KeyHost:  "host",
		config.KeyPort:  "port",
		config.KeyToken: "token",
	})
	return cmd
}

// newServer builds the hub, API router and HTTP server over app.
func newServer(app *app) (*server.Server, *hub.Hub) {
	hubInst := hub.New(hub.Options{
		Token:       app.cfg.Token,
		Chat:        app.chat.HubChat,
		MinInterval: app.cfg.ChatMinInterval,
		Metrics:     app.metrics,
		Logger:      app.logger,
	})
	router := api.NewRouter(api.Options{
		DB:         app.database.SQL(),
		Engine:     app.engine,
		Chat:       app.chat,
		Constructs: app.constructs,
		Hub:        hubInst,
		Token:      app.cfg.Token,
		Logger:     app.logger,
	})
	srv := server.New(server.Options{
		Addr:      app.cfg.Addr(),
		API:       router,
		WebSocket: hubInst.HandleWebSocket,
		Metrics:   app.metrics,
		Logger:    app.logger,
	})
	return srv, hubInst
}

// announceSeats probes seat availability once at startup so clients that
// connect get a seat list in their welcome message.
func announceSeats(ctx context.Context, app *app, hubInst *hub.Hub) {
	status := app.engine.TriadPreCheck(ctx)
	hubInst.BroadcastSeats(api.SeatInfos(app.engine.SeatDescriptors(), status))
	if !status.Healthy() {
		app.logger.Warn("helper seats unavailable at startup", "failed", status.Failed)
	}
}
