package storage_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/google/uuid"
	"github.com/monica-infra/deployer/internal/errdef"
	"github.com/monica-infra/deployer/pkg/config"
	"github.com/monica-infra/deployer/pkg/descriptor"
	"github.com/monica-infra/deployer/pkg/model"
	"github.com/monica-infra/deployer/pkg/provision"
	"github.com/monica-infra/deployer/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryObjects struct {
	objects      map[string][]byte
	contentTypes map[string]string
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (m *memoryObjects) Upload(_ context.Context, bucket string, key string, body io.Reader, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.objects[bucket+"/"+key] = data
	m.contentTypes[bucket+"/"+key] = contentType
	return nil
}

func (m *memoryObjects) Download(_ context.Context, bucket string, key string, dst io.Writer) error {
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return errdef.NewNotFound("object %q not found in bucket %q", key, bucket)
	}
	_, err := dst.Write(data)
	return err
}

func (m *memoryObjects) Copy(_ context.Context, bucket string, source string, destination string) error {
	m.objects[bucket+"/"+destination] = bytes.Clone(m.objects[bucket+"/"+source])
	m.contentTypes[bucket+"/"+destination] = m.contentTypes[bucket+"/"+source]
	return nil
}

func deployment(t *testing.T) (*model.Descriptor, *provision.State) {
	t.Helper()
	d, err := descriptor.New(config.Descriptor{StackName: "Monica Crm"}, descriptor.V1).Build()
	require.NoError(t, err)

	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	state := &provision.State{
		ID:         uuid.MustParse("7d444840-9dc0-11d1-b245-5ffdce74fad2"),
		StackName:  d.Name,
		Variant:    d.Variant,
		StartedAt:  now,
		FinishedAt: now.Add(time.Minute),
		Status:     provision.StatusSucceeded,
		Resources: map[string]provision.ResourceState{
			descriptor.IdentityID: {
				Kind:       model.KindIdentity,
				PhysicalID: "arn:user",
				Outputs:    map[string]string{model.AttrAccessKeyID: "AKIA", model.AttrSecretAccessKey: "secret"},
				Sensitive:  []string{model.AttrSecretAccessKey},
				AppliedAt:  now,
			},
		},
	}
	return d, state
}

func TestStateStore(t *testing.T) {
	t.Run("Redacted", func(t *testing.T) {
		objects := newMemoryObjects()
		store := storage.NewStateStore(objects, storage.RedactingCodec{}, "state", "deployments")
		d, state := deployment(t)

		err := store.Save(context.Background(), d, state)

		require.NoError(t, err)
		prefix := "state/deployments/monica-crm/"
		assert.Contains(t, objects.objects, prefix+state.ID.String()+"/descriptor.yaml")
		assert.Contains(t, objects.objects, prefix+state.ID.String()+"/state.json")
		assert.Equal(t, "application/json", objects.contentTypes[prefix+"latest/state.json"])
		assert.NotContains(t, string(objects.objects[prefix+"latest/state.json"]), `"secret"`)

		latest, err := store.Latest(context.Background(), d.Name)
		require.NoError(t, err)
		assert.Equal(t, state.ID, latest.ID)
		assert.Equal(t, "AKIA", latest.Resources[descriptor.IdentityID].Outputs[model.AttrAccessKeyID])
		assert.Equal(t, provision.Redacted, latest.Resources[descriptor.IdentityID].Outputs[model.AttrSecretAccessKey])
		assert.True(t, latest.IsRedacted())
	})

	t.Run("Encrypted", func(t *testing.T) {
		identity, err := age.GenerateX25519Identity()
		require.NoError(t, err)
		codec, err := storage.NewCodec(config.State{AgeRecipient: identity.Recipient().String(), AgeIdentity: identity.String()})
		require.NoError(t, err)
		objects := newMemoryObjects()
		store := storage.NewStateStore(objects, codec, "state", "deployments")
		d, state := deployment(t)

		err = store.Save(context.Background(), d, state)

		require.NoError(t, err)
		stored := objects.objects["state/deployments/monica-crm/latest/state.json.age"]
		require.NotEmpty(t, stored)
		assert.True(t, strings.HasPrefix(string(stored), "age-encryption.org/v1"))
		assert.NotContains(t, string(stored), "AKIA")

		latest, err := store.Latest(context.Background(), d.Name)
		require.NoError(t, err)
		assert.Equal(t, "secret", latest.Resources[descriptor.IdentityID].Outputs[model.AttrSecretAccessKey])
	})

	t.Run("EncryptedWithoutIdentity", func(t *testing.T) {
		identity, err := age.GenerateX25519Identity()
		require.NoError(t, err)
		codec, err := storage.NewCodec(config.State{AgeRecipient: identity.Recipient().String()})
		require.NoError(t, err)
		store := storage.NewStateStore(newMemoryObjects(), codec, "state", "deployments")
		d, state := deployment(t)
		require.NoError(t, store.Save(context.Background(), d, state))

		_, err = store.Latest(context.Background(), d.Name)

		require.ErrorContains(t, err, "no age identity configured")
	})

	t.Run("NoDeployment", func(t *testing.T) {
		store := storage.NewStateStore(newMemoryObjects(), storage.RedactingCodec{}, "state", "deployments")

		_, err := store.Latest(context.Background(), "unknown")

		require.True(t, errdef.IsNotFound(err))
	})
}

func TestNewCodec(t *testing.T) {
	t.Run("RedactingWithoutRecipient", func(t *testing.T) {
		codec, err := storage.NewCodec(config.State{})

		require.NoError(t, err)
		assert.IsType(t, storage.RedactingCodec{}, codec)
	})

	t.Run("InvalidRecipient", func(t *testing.T) {
		_, err := storage.NewCodec(config.State{AgeRecipient: "not-a-recipient"})

		require.ErrorContains(t, err, "invalid age recipient")
	})
}
