package deployment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/monica-infra/deployer/internal/errdef"
	"github.com/monica-infra/deployer/pkg/config"
	"github.com/monica-infra/deployer/pkg/model"
	"github.com/monica-infra/deployer/pkg/provision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

type applierFunc func(ctx context.Context, d *model.Descriptor) (*provision.State, error)

func (f applierFunc) Apply(ctx context.Context, d *model.Descriptor) (*provision.State, error) {
	return f(ctx, d)
}

type fakeStore struct {
	saved   []*provision.State
	saveErr error
}

func (f *fakeStore) Save(_ context.Context, _ *model.Descriptor, state *provision.State) error {
	f.saved = append(f.saved, state)
	return f.saveErr
}

func (f *fakeStore) Latest(_ context.Context, _ string) (*provision.State, error) {
	if len(f.saved) == 0 {
		return nil, errdef.NewNotFound("no state")
	}
	return f.saved[len(f.saved)-1], nil
}

func succeeding(ctx context.Context, d *model.Descriptor) (*provision.State, error) {
	return &provision.State{ID: uuid.New(), StackName: d.Name, Variant: d.Variant, Status: provision.StatusSucceeded}, nil
}

func TestService_Descriptor(t *testing.T) {
	service := NewService(logger, config.Descriptor{StackName: "monica", Variant: "v2"}, nil, nil)

	t.Run("ConfiguredVariant", func(t *testing.T) {
		d, err := service.Descriptor("")

		require.NoError(t, err)
		assert.Equal(t, "v2", d.Variant)
	})

	t.Run("RequestedVariant", func(t *testing.T) {
		d, err := service.Descriptor("V3")

		require.NoError(t, err)
		assert.Equal(t, "v3", d.Variant)
	})

	t.Run("UnknownVariant", func(t *testing.T) {
		_, err := service.Descriptor("v4")

		require.True(t, errdef.IsBadRequest(err))
	})
}

func TestService_Deploy(t *testing.T) {
	t.Run("SavesState", func(t *testing.T) {
		store := &fakeStore{}
		service := NewService(logger, config.Descriptor{StackName: "monica"}, applierFunc(succeeding), store)

		state, err := service.Deploy(context.Background(), "")

		require.NoError(t, err)
		require.Len(t, store.saved, 1)
		assert.Equal(t, state, store.saved[0])
	})

	t.Run("SavesStateOfFailedDeployment", func(t *testing.T) {
		store := &fakeStore{}
		applyErr := errors.New("apply failed")
		applier := applierFunc(func(ctx context.Context, d *model.Descriptor) (*provision.State, error) {
			return &provision.State{ID: uuid.New(), Status: provision.StatusFailed, Error: applyErr.Error()}, applyErr
		})
		service := NewService(logger, config.Descriptor{StackName: "monica"}, applier, store)

		state, err := service.Deploy(context.Background(), "")

		require.ErrorIs(t, err, applyErr)
		require.NotNil(t, state)
		require.Len(t, store.saved, 1)
		assert.Equal(t, provision.StatusFailed, store.saved[0].Status)
	})

	t.Run("SaveFailure", func(t *testing.T) {
		store := &fakeStore{saveErr: errors.New("bucket gone")}
		service := NewService(logger, config.Descriptor{StackName: "monica"}, applierFunc(succeeding), store)

		_, err := service.Deploy(context.Background(), "")

		require.ErrorContains(t, err, "bucket gone")
	})

	t.Run("WithoutStore", func(t *testing.T) {
		service := NewService(logger, config.Descriptor{StackName: "monica"}, applierFunc(succeeding), nil)

		state, err := service.Deploy(context.Background(), "")

		require.NoError(t, err)
		assert.Equal(t, provision.StatusSucceeded, state.Status)
	})

	t.Run("ConcurrentDeployment", func(t *testing.T) {
		started := make(chan struct{})
		release := make(chan struct{})
		applier := applierFunc(func(ctx context.Context, d *model.Descriptor) (*provision.State, error) {
			close(started)
			<-release
			return succeeding(ctx, d)
		})
		service := NewService(logger, config.Descriptor{StackName: "monica"}, applier, nil)

		done := make(chan error)
		go func() {
			_, err := service.Deploy(context.Background(), "")
			done <- err
		}()
		<-started

		_, err := service.Deploy(context.Background(), "")

		require.True(t, errdef.IsConflict(err))
		var inProgress *InProgressError
		require.ErrorAs(t, err, &inProgress)
		assert.Equal(t, "monica", inProgress.StackName())
		close(release)
		require.NoError(t, <-done)
	})
}

func TestService_Latest(t *testing.T) {
	t.Run("PersistenceDisabled", func(t *testing.T) {
		service := NewService(logger, config.Descriptor{StackName: "monica"}, applierFunc(succeeding), nil)

		_, err := service.Latest(context.Background())

		require.True(t, errdef.IsNotFound(err))
	})
}
