package deployment

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/monica-infra/deployer/pkg/config"
	"github.com/monica-infra/deployer/pkg/provision"
	"github.com/monica-infra/deployer/pkg/provision/awsprovision"
	"github.com/monica-infra/deployer/pkg/storage"
)

// NewFromConfig returns a service applying descriptors to the AWS account found by the SDK default
// configuration chain. Deployment state is persisted to S3 if a state bucket is configured.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func NewFromConfig(ctx context.Context, logger *slog.Logger, cfg config.Config) (*service, error) {
	awsConfig, err := awsprovision.LoadConfig(ctx, cfg.AWS.Region)
	if err != nil {
		return nil, err
	}

	engine := provision.NewEngine(logger, awsprovision.NewPseudoResolver(awsConfig), awsprovision.NewHandlers(logger, awsConfig))

	if !cfg.State.Enabled() {
		logger.WarnContext(ctx, "No state bucket configured, deployment state is not persisted")
		return NewService(logger, cfg.Descriptor, engine, nil), nil
	}

	codec, err := storage.NewCodec(cfg.State)
	if err != nil {
		return nil, err
	}
	s3Client := s3.NewFromConfig(awsConfig)
	objects := storage.NewS3Client(logger, s3Client, manager.NewUploader(s3Client))
	store := storage.NewStateStore(objects, codec, cfg.State.Bucket, cfg.State.Prefix)

	return NewService(logger, cfg.Descriptor, engine, store), nil
}
