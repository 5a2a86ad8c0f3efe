// Package classification Monica Deployer Service.
//
// Synthesizes and deploys the AWS infrastructure hosting Monica CRM
//
//	Version: 0.1.0
//
//	Consumes:
//	  - application/json
//
//	Produces:
//	  - application/json
//	  - application/yaml
//
//	SecurityDefinitions:
//	  apiToken:
//	    type: apiKey
//	    in: header
//	    name: Authorization
//
// swagger:meta
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	deployerlog "github.com/monica-infra/deployer/internal/log"
	"github.com/monica-infra/deployer/internal/middleware"
	"github.com/monica-infra/deployer/internal/server"
	"github.com/monica-infra/deployer/pkg/config"
	"github.com/monica-infra/deployer/pkg/deployment"
	"github.com/monica-infra/deployer/pkg/health"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.New()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := deployerlog.NewLogger(os.Stdout, cfg.Logging.SlogLevel(), cfg.Logging.Pretty)

	deploymentService, err := deployment.NewFromConfig(ctx, logger, cfg)
	if err != nil {
		return err
	}

	r := server.GetEngine(logger)
	group := r.Group(cfg.Server.BasePath)
	health.Routes(group)
	deployment.Routes(group, middleware.NewAuthentication(cfg.Server.APIToken), deployment.NewHandler(deploymentService))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "Listening", "address", srv.Addr)
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to shut down server: %v", err)
	}
	return nil
}
