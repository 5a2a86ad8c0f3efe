package provision

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/monica-infra/deployer/internal/errdef"
	"github.com/monica-infra/deployer/internal/log"
	"github.com/monica-infra/deployer/pkg/descriptor"
	"github.com/monica-infra/deployer/pkg/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/monica-infra/deployer/pkg/provision"

// Engine applies descriptors layer by layer. Resources of a layer do not depend on each other and
// are applied concurrently.
type Engine struct {
	logger   *slog.Logger
	pseudo   PseudoResolver
	handlers map[model.Kind]Handler
	tracer   trace.Tracer
	now      func() time.Time
}

type EngineOption func(*Engine)

// WithTracerProvider sets the provider of the tracer creating a span per applied resource. The
// global provider is used by default.
func WithTracerProvider(provider trace.TracerProvider) EngineOption {
	return func(e *Engine) {
		e.tracer = provider.Tracer(tracerName)
	}
}

func NewEngine(logger *slog.Logger, pseudo PseudoResolver, handlers map[model.Kind]Handler, options ...EngineOption) *Engine {
	if pseudo == nil {
		pseudo = PseudoValues{}
	}
	e := &Engine{
		logger:   logger,
		pseudo:   pseudo,
		handlers: handlers,
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
	for _, option := range options {
		option(e)
	}
	return e
}

// Apply applies all resources of the descriptor. The returned state is never nil if the descriptor
// is valid. It records the resources applied until the first failure.
func (e *Engine) Apply(ctx context.Context, d *model.Descriptor) (*State, error) {
	if err := descriptor.Validate(d); err != nil {
		return nil, err
	}
	layers, err := descriptor.Layers(d)
	if err != nil {
		return nil, errdef.NewBadRequest("invalid descriptor: %w", err)
	}
	for _, r := range d.Resources() {
		if _, ok := e.handlers[r.Kind()]; !ok {
			return nil, fmt.Errorf("no handler for resource %q of kind %s", r.LogicalID(), r.Kind())
		}
	}

	state := &State{
		ID:        uuid.New(),
		StackName: d.Name,
		Variant:   d.Variant,
		StartedAt: e.now(),
		Status:    StatusApplying,
		Resources: make(map[string]ResourceState),
	}
	ctx = log.NewContextWithDeploymentID(ctx, state.ID.String())
	ctx, span := e.tracer.Start(ctx, "Apply", trace.WithAttributes(
		attribute.String("stack", d.Name),
		attribute.String("deployment.id", state.ID.String()),
	))
	defer span.End()

	err = e.apply(ctx, d, layers, state)
	state.FinishedAt = e.now()
	if err != nil {
		state.Status = StatusFailed
		state.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.ErrorContext(ctx, "Failed to apply descriptor", "stack", d.Name, "error", err)
		return state, err
	}

	state.Status = StatusSucceeded
	e.logger.InfoContext(ctx, "Applied descriptor", "stack", d.Name, "resources", len(state.Resources), "duration", state.FinishedAt.Sub(state.StartedAt))
	return state, nil
}

func (e *Engine) apply(ctx context.Context, d *model.Descriptor, layers [][]string, state *State) error {
	pseudo, err := e.pseudo.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve account attributes: %w", Classify(err))
	}
	resolver := NewResolver(pseudo)

	var mu sync.Mutex
	for i, layer := range layers {
		e.logger.DebugContext(ctx, "Applying layer", "layer", i, "resources", layer)

		g, ctx := errgroup.WithContext(ctx)
		for _, id := range layer {
			resource, _ := d.Resource(id)
			g.Go(func() error {
				result, err := e.put(ctx, d, resource, resolver)
				if err != nil {
					return err
				}

				resourceState := ResourceState{
					Kind:       resource.Kind(),
					PhysicalID: result.PhysicalID,
					Outputs:    result.Outputs,
					Sensitive:  result.Sensitive,
					AppliedAt:  e.now(),
				}
				resolver.Record(id, resourceState)
				mu.Lock()
				state.Resources[id] = resourceState
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) put(ctx context.Context, d *model.Descriptor, resource model.Resource, resolver *Resolver) (Result, error) {
	id := resource.LogicalID()
	ctx, span := e.tracer.Start(ctx, "Put "+string(resource.Kind()), trace.WithAttributes(
		attribute.String("resource.id", id),
		attribute.String("resource.kind", string(resource.Kind())),
	))
	defer span.End()

	e.logger.InfoContext(ctx, "Applying resource", "resource", id, "kind", resource.Kind())
	start := e.now()
	result, err := e.handlers[resource.Kind()].Put(ctx, &PutOptions{
		Descriptor: d,
		Resource:   resource,
		Resolver:   resolver,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("failed to apply %s %q: %w", resource.Kind(), id, Classify(err))
	}
	if result.Outputs == nil {
		result.Outputs = map[string]string{}
	}

	span.SetAttributes(attribute.String("resource.physicalId", result.PhysicalID))
	e.logger.InfoContext(ctx, "Applied resource", "resource", id, "kind", resource.Kind(), "physicalId", result.PhysicalID, "duration", e.now().Sub(start))
	return result, nil
}
