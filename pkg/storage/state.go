// Package storage persists deployments to S3. Every deployment is stored under its ID together
// with the descriptor it applied. The state of the latest deployment of a stack is copied to a
// fixed key.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/gosimple/slug"
	"github.com/monica-infra/deployer/pkg/descriptor"
	"github.com/monica-infra/deployer/pkg/model"
	"github.com/monica-infra/deployer/pkg/provision"
)

type objectStore interface {
	Upload(ctx context.Context, bucket string, key string, body io.Reader, contentType string) error
	Download(ctx context.Context, bucket string, key string, dst io.Writer) error
	Copy(ctx context.Context, bucket string, source string, destination string) error
}

func NewStateStore(objects objectStore, codec Codec, bucket, prefix string) *StateStore {
	return &StateStore{objects: objects, codec: codec, bucket: bucket, prefix: prefix}
}

type StateStore struct {
	objects objectStore
	codec   Codec
	bucket  string
	prefix  string
}

func (s *StateStore) stackPrefix(stackName string) string {
	return path.Join(s.prefix, slug.Make(stackName))
}

func (s *StateStore) latestKey(stackName string) string {
	return path.Join(s.stackPrefix(stackName), "latest", "state"+s.codec.Extension())
}

// Save stores the descriptor and the state of a deployment and marks it as the latest one of its
// stack.
func (s *StateStore) Save(ctx context.Context, d *model.Descriptor, state *provision.State) error {
	deploymentPrefix := path.Join(s.stackPrefix(state.StackName), state.ID.String())

	template, err := descriptor.Synth(d, descriptor.FormatYAML)
	if err != nil {
		return err
	}
	if err := s.objects.Upload(ctx, s.bucket, path.Join(deploymentPrefix, "descriptor.yaml"), bytes.NewReader(template), "application/yaml"); err != nil {
		return err
	}

	data, err := s.codec.Encode(state)
	if err != nil {
		return err
	}
	key := path.Join(deploymentPrefix, "state"+s.codec.Extension())
	if err := s.objects.Upload(ctx, s.bucket, key, bytes.NewReader(data), s.codec.ContentType()); err != nil {
		return err
	}

	return s.objects.Copy(ctx, s.bucket, key, s.latestKey(state.StackName))
}

// Latest returns the state of the latest deployment of the stack.
func (s *StateStore) Latest(ctx context.Context, stackName string) (*provision.State, error) {
	var buf bytes.Buffer
	if err := s.objects.Download(ctx, s.bucket, s.latestKey(stackName), &buf); err != nil {
		return nil, fmt.Errorf("failed to download state of stack %q: %w", stackName, err)
	}
	return s.codec.Decode(buf.Bytes())
}
