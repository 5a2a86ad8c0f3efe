package deployment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/monica-infra/deployer/internal/errdef"
	"github.com/monica-infra/deployer/pkg/config"
	"github.com/monica-infra/deployer/pkg/descriptor"
	"github.com/monica-infra/deployer/pkg/model"
	"github.com/monica-infra/deployer/pkg/provision"
)

// InProgressError is returned if a deployment of the stack is requested while another one is
// running.
type InProgressError struct {
	Stack string
}

func (e *InProgressError) Error() string {
	return fmt.Sprintf("a deployment of stack %q is already in progress", e.Stack)
}

func (e *InProgressError) StackName() string {
	return e.Stack
}

type StateStore interface {
	Save(ctx context.Context, d *model.Descriptor, state *provision.State) error
	Latest(ctx context.Context, stackName string) (*provision.State, error)
}

// NewService returns a service deploying descriptors built from cfg. The store is optional, state
// is not persisted without one.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func NewService(logger *slog.Logger, cfg config.Descriptor, applier provision.Applier, store StateStore) *service {
	return &service{
		logger:  logger,
		cfg:     cfg,
		applier: applier,
		store:   store,
	}
}

type service struct {
	logger  *slog.Logger
	cfg     config.Descriptor
	applier provision.Applier
	store   StateStore
	// deploying guards against concurrent deployments of the same stack
	deploying sync.Mutex
}

func (s *service) stackName() string {
	if s.cfg.StackName == "" {
		return descriptor.DefaultStackName
	}
	return s.cfg.StackName
}

// Descriptor builds the descriptor of the given variant. The configured variant is used if none is
// given.
func (s *service) Descriptor(variant string) (*model.Descriptor, error) {
	if variant == "" {
		variant = s.cfg.Variant
	}
	options, err := descriptor.Variant(variant)
	if err != nil {
		return nil, err
	}
	return descriptor.New(s.cfg, options).Build()
}

// Deploy builds and applies the descriptor. The state is persisted even if the deployment failed
// so the resources applied until the failure are known.
func (s *service) Deploy(ctx context.Context, variant string) (*provision.State, error) {
	if !s.deploying.TryLock() {
		return nil, errdef.NewConflict("%w", &InProgressError{Stack: s.stackName()})
	}
	defer s.deploying.Unlock()

	d, err := s.Descriptor(variant)
	if err != nil {
		return nil, err
	}

	state, err := s.applier.Apply(ctx, d)
	if state != nil && s.store != nil {
		if saveErr := s.store.Save(ctx, d, state); saveErr != nil {
			s.logger.ErrorContext(ctx, "Failed to save deployment state", "deploymentId", state.ID, "error", saveErr)
			if err == nil {
				err = saveErr
			}
		}
	}
	return state, err
}

// Latest returns the state of the latest deployment of the configured stack.
func (s *service) Latest(ctx context.Context) (*provision.State, error) {
	if s.store == nil {
		return nil, errdef.NewNotFound("no deployment state, persistence is disabled")
	}
	return s.store.Latest(ctx, s.cfg.StackName)
}
