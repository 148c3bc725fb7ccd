// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package blob

import (
	"context"
	"io"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/gorse-io/latent/config"
	"github.com/juju/errors"
	"golang.org/x/oauth2"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSEmulatorEndpoint overrides the endpoint of Google Cloud Storage without
// authentication.
const GCSEmulatorEndpoint = "GCS_EMULATOR_ENDPOINT"

// GCS stores files in a Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

func NewGCS(cfg config.GCSConfig) (*GCS, error) {
	var opts []option.ClientOption
	if endpoint := os.Getenv(GCSEmulatorEndpoint); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
		opts = append(opts, option.WithoutAuthentication())
	} else if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	} else if cfg.AccessToken != "" {
		// short-lived token, e.g. from `gcloud auth print-access-token`
		opts = append(opts, option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: cfg.AccessToken,
			TokenType:   "Bearer",
		})))
	}
	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &GCS{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (g *GCS) object(name string) *storage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(path.Join(g.prefix, name))
}

func (g *GCS) Open(name string) (io.ReadCloser, error) {
	r, err := g.object(name).NewReader(context.Background())
	return r, errors.Trace(err)
}

func (g *GCS) Create(name string) (io.WriteCloser, <-chan error, error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	return &gcsWriter{Writer: g.object(name).NewWriter(ctx), cancel: cancel, done: done}, done, nil
}

// gcsWriter commits the object on Close.
type gcsWriter struct {
	*storage.Writer
	cancel context.CancelFunc
	done   chan error
}

func (w *gcsWriter) Close() error {
	err := w.Writer.Close()
	w.cancel()
	w.done <- err
	close(w.done)
	return err
}

// CloseWithError discards the object.
func (w *gcsWriter) CloseWithError(err error) error {
	w.cancel()
	_ = w.Writer.Close()
	w.done <- err
	close(w.done)
	return nil
}

func (g *GCS) List() ([]string, error) {
	var names []string
	prefix := g.prefix
	if prefix != "" {
		prefix += "/"
	}
	it := g.client.Bucket(g.bucket).Objects(context.Background(), &storage.Query{
		Prefix: prefix,
	})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, errors.Trace(err)
		}
		names = append(names, strings.TrimPrefix(attrs.Name, prefix))
	}
	return names, nil
}

func (g *GCS) Remove(name string) error {
	return errors.Trace(g.object(name).Delete(context.Background()))
}
