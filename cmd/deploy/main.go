// Deploy applies the descriptor of the configured stack to the AWS account found by the SDK default
// configuration chain.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	deployerlog "github.com/monica-infra/deployer/internal/log"
	"github.com/monica-infra/deployer/pkg/config"
	"github.com/monica-infra/deployer/pkg/deployment"
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

	variant := flag.String("variant", cfg.Descriptor.Variant, "descriptor variant, one of v1, v2, v3")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := deployerlog.NewLogger(os.Stdout, cfg.Logging.SlogLevel(), cfg.Logging.Pretty)

	service, err := deployment.NewFromConfig(ctx, logger, cfg)
	if err != nil {
		return err
	}

	state, err := service.Deploy(ctx, *variant)
	if err != nil {
		return fmt.Errorf("failed to deploy stack %q: %v", cfg.Descriptor.StackName, err)
	}

	for id, resource := range state.Redacted().Resources {
		logger.InfoContext(ctx, "Resource applied", "resource", id, "kind", resource.Kind, "physicalId", resource.PhysicalID)
	}
	logger.InfoContext(ctx, "Stack deployed", "stack", state.StackName, "deploymentId", state.ID)
	return nil
}
