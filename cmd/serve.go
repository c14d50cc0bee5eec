package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/markb/filepulse/internal/log"
	"github.com/markb/filepulse/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the presence server",
	Long:  `Starts the HTTP server with the presence WebSocket endpoint.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		host, _ := cmd.Flags().GetString("host")
		historyPath, _ := cmd.Flags().GetString("history")
		httpsDomain, _ := cmd.Flags().GetString("https-domain")
		certDir, _ := cmd.Flags().GetString("cert-dir")

		logCfg := log.DefaultConfig()
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			logCfg.Level = level
		}
		if format, _ := cmd.Flags().GetString("log-format"); format != "" {
			logCfg.Format = format
		}
		log.Init(logCfg)

		jwtSecret := os.Getenv("FILEPULSE_JWT_SECRET")
		if jwtSecret == "" {
			jwtSecret = "super-secret-jwt-key-please-change-in-production"
			fmt.Println("Warning: Using default JWT secret. Set FILEPULSE_JWT_SECRET in production.")
		}

		srv, err := server.New(server.Config{
			JWTSecret:   jwtSecret,
			HistoryPath: historyPath,
		})
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		errc := make(chan error, 1)
		go func() {
			if httpsDomain != "" {
				errc <- srv.ListenAndServeTLS(server.HTTPSConfig{
					Domain:  httpsDomain,
					CertDir: certDir,
				})
				return
			}
			addr := fmt.Sprintf("%s:%d", host, port)
			fmt.Printf("Starting filepulse on %s\n", addr)
			fmt.Printf("  Presence WS: ws://%s/presence/v1/websocket\n", addr)
			fmt.Printf("  Stats:       http://%s/presence/v1/stats\n", addr)
			errc <- srv.ListenAndServe(addr)
		}()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errc:
			if err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		case <-stop:
			log.Info("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().String("history", "history.db", "Path to the viewer-history database (empty to disable)")
	serveCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error")
	serveCmd.Flags().String("log-format", "", "Log format: text or json")
	serveCmd.Flags().String("https-domain", "", "Enable HTTPS with a Let's Encrypt certificate for this domain")
	serveCmd.Flags().String("cert-dir", "./certs", "Directory to cache TLS certificates")
}
