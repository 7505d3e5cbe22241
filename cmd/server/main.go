package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Brownie44l1/hive-api/internal/app"
	"github.com/Brownie44l1/hive-api/internal/config"
	"github.com/Brownie44l1/hive-api/internal/handlers"
	"github.com/Brownie44l1/hive-api/internal/logging"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "hive-api",
		Short:         "Bee-hive audio and image classifier service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server",
			Args:  cobra.NoArgs,
			RunE:  runServe,
		},
		classifyCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func bootstrap() (*config.Config, *logrus.Logger, *app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, nil, err
	}
	a, err := app.New(cfg, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize models: %w", err)
	}
	return cfg, log, a, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.Close()

	gin.SetMode(cfg.Server.Mode)
	h := handlers.NewHandler(a.Audio, a.Image, a.Info(cfg), log)
	router := handlers.NewRouter(h, handlers.RouterConfig{
		CORSOrigin:     cfg.Server.CORSOrigin,
		MaxUploadBytes: cfg.Server.MaxUploadBytes(),
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":    srv.Addr,
			"scratch": a.Audio.Scratch.Dir(),
			"classes": a.Classes.Names(),
		}).Info("server starting")
		log.Info("endpoints: GET / | GET /health | POST /analyze/audio | POST /analyze/image")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func classifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify a local file without starting the server",
	}

	run := func(pipe string) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			_, _, a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.Close()

			var result any
			switch pipe {
			case "audio":
				result, err = a.Audio.AnalyzeFile(cmd.Context(), args[0])
			case "image":
				result, err = a.Image.AnalyzeFile(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "audio <path>",
			Short: "Predict queen status from a hive recording",
			Args:  cobra.ExactArgs(1),
			RunE:  run("audio"),
		},
		&cobra.Command{
			Use:   "image <path>",
			Short: "Predict the class of an image",
			Args:  cobra.ExactArgs(1),
			RunE:  run("image"),
		},
	)
	return cmd
}
