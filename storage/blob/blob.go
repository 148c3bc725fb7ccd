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
	"bufio"
	"io"

	"github.com/gorse-io/latent/config"
	"github.com/gorse-io/latent/dataset"
	"github.com/gorse-io/latent/model/mapping"
	"github.com/gorse-io/latent/model/mf"
	"github.com/juju/errors"
)

// Store keeps model files.
type Store interface {
	// Open a file for reading.
	Open(name string) (io.ReadCloser, error)
	// Create a file for writing. The returned channel yields the result of the upload
	// once the writer is closed.
	Create(name string) (io.WriteCloser, <-chan error, error)
	// List names of files.
	List() ([]string, error)
	// Remove a file.
	Remove(name string) error
}

// NewStore creates the store selected by the configuration.
func NewStore(cfg config.BlobConfig) (Store, error) {
	switch cfg.Type {
	case config.BlobPOSIX, "":
		return NewPOSIX(cfg.POSIX.Dir), nil
	case config.BlobS3:
		return NewS3(cfg.S3)
	case config.BlobGCS:
		return NewGCS(cfg.GCS)
	case config.BlobAzure:
		return NewAzureBlob(cfg.Azure)
	}
	return nil, errors.NotSupportedf("blob store %q", cfg.Type)
}

// write streams a file into the store and waits for the upload.
func write(store Store, name string, marshal func(w io.Writer) error) error {
	w, done, err := store.Create(name)
	if err != nil {
		return errors.Trace(err)
	}
	buf := bufio.NewWriter(w)
	if err = marshal(buf); err == nil {
		err = buf.Flush()
	}
	if err != nil {
		if aborter, ok := w.(interface{ CloseWithError(error) error }); ok {
			_ = aborter.CloseWithError(err)
		} else {
			_ = w.Close()
		}
		<-done
		return errors.Trace(err)
	}
	if err = w.Close(); err != nil {
		<-done
		return errors.Trace(err)
	}
	return errors.Trace(<-done)
}

func read(store Store, name string, unmarshal func(r io.Reader) error) error {
	r, err := store.Open(name)
	if err != nil {
		return errors.Trace(err)
	}
	defer r.Close()
	return errors.Trace(unmarshal(bufio.NewReader(r)))
}

// SaveModel writes a tagged model file.
func SaveModel(store Store, name string, m mf.Model) error {
	return write(store, name, func(w io.Writer) error {
		return mf.MarshalModel(w, m)
	})
}

// LoadModel reads a tagged model file. The train set is bound if it is not nil.
func LoadModel(store Store, name string, trainSet *dataset.Dataset) (mf.Model, error) {
	var m mf.Model
	err := read(store, name, func(r io.Reader) (err error) {
		m, err = mf.LoadModel(r, trainSet)
		return
	})
	if err != nil {
		return nil, errors.Annotatef(err, "load model %s", name)
	}
	return m, nil
}

// SaveMapping writes vectors of a trained mapper.
func SaveMapping(store Store, name string, cached *mapping.Cached) error {
	return write(store, name, cached.Marshal)
}

func LoadMapping(store Store, name string) (*mapping.Cached, error) {
	cached := new(mapping.Cached)
	if err := read(store, name, cached.Unmarshal); err != nil {
		return nil, errors.Annotatef(err, "load mapping %s", name)
	}
	return cached, nil
}
