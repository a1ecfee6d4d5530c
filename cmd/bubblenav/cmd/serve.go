package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/bubblenav/internal/render"
	"github.com/MeKo-Tech/bubblenav/internal/server"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP reader backend",
	Long: `Start an HTTP server that serves the books of a library directory and
keeps one reading session per open book.

The server provides the following endpoints:
  GET    /health                        Health check
  GET    /metrics                       Prometheus metrics
  GET    /ws                            Session events and navigation over WebSocket
  GET    /books                         List books in the library
  GET    /books/{id}/status             Indexing and navigation status
  GET    /books/{id}/pages/{page}       Balloons as JSON, or ?format=overlay|popup PNGs
  POST   /books/{id}/navigate           Apply a reader gesture
  PUT    /books/{id}/direction          Change the reading direction
  POST   /books/{id}/index              Start full indexing
  DELETE /books/{id}/index              Disable detection and clear the index
  POST   /books/{id}/refresh            Re-detect a page and the next one
  DELETE /books/{id}                    Close the book's session

Examples:
  bubblenav serve
  bubblenav serve --library ~/comics --port 8080
  bubblenav serve --host 0.0.0.0 --cors-origin https://reader.example.com`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		host := cfg.Server.Host
		if cmd.Flags().Changed("host") {
			host, _ = cmd.Flags().GetString("host")
		}
		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}
		corsOrigin := cfg.Server.CORSOrigin
		if cmd.Flags().Changed("cors-origin") {
			corsOrigin, _ = cmd.Flags().GetString("cors-origin")
		}
		timeout := cfg.Server.TimeoutSec
		if cmd.Flags().Changed("timeout") {
			timeout, _ = cmd.Flags().GetInt("timeout")
		}
		shutdownTimeout := cfg.Server.ShutdownTimeout
		if cmd.Flags().Changed("shutdown-timeout") {
			shutdownTimeout, _ = cmd.Flags().GetInt("shutdown-timeout")
		}
		libraryDir := cfg.Server.LibraryDir
		if cmd.Flags().Changed("library") {
			libraryDir, _ = cmd.Flags().GetString("library")
		}
		refreshOnTurn, _ := cmd.Flags().GetBool("refresh-on-turn")

		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", port)
		}

		style, err := cfg.OverlayStyle()
		if err != nil {
			return err
		}
		library, err := server.NewDirLibrary(libraryDir)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(commandContext(cmd))
		defer cancel()

		store, closeStore, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		det, err := loadDetector(cfg)
		if err != nil {
			return err
		}
		if err := det.Err(); err != nil {
			slog.Warn("Serving without balloon detection", "error", err)
		}

		popup := render.DefaultPopupOptions()
		popup.Padding = cfg.Output.PopupPadding

		bubbleServer, err := server.NewServer(server.Config{
			Host:          host,
			Port:          port,
			CORSOrigin:    corsOrigin,
			TimeoutSec:    timeout,
			Detector:      det,
			Store:         store,
			Library:       library,
			Indexer:       cfg.ToIndexerConfig(),
			Navigation:    cfg.ToNavigationConfig(),
			RefreshOnTurn: refreshOnTurn,
			Style:         style,
			Popup:         popup,
		})
		if err != nil {
			_ = det.Close()
			return fmt.Errorf("failed to initialize server: %w", err)
		}

		mux := http.NewServeMux()
		bubbleServer.SetupRoutes(mux)

		// No WriteTimeout: websocket connections outlive a single request.
		httpServer := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", host, port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       time.Duration(timeout) * time.Second,
		}

		go func() {
			slog.Info("Starting bubblenav server", "host", host, "port", port, "library", libraryDir)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("Context cancelled, initiating shutdown")
		}

		slog.Info("Starting graceful shutdown", "timeout", fmt.Sprintf("%ds", shutdownTimeout))
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(shutdownTimeout)*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
		// Closes open sessions, websocket clients and the detector.
		if err := bubbleServer.Close(); err != nil {
			slog.Error("Server cleanup error", "error", err)
		}
		slog.Info("Graceful shutdown completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origin")
	serveCmd.Flags().Int("timeout", 30, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().String("library", ".", "directory containing the books to serve")
	serveCmd.Flags().Bool("refresh-on-turn", true, "re-detect the displayed and next page after each page turn")
}
