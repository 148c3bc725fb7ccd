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
	"io"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
)

// testStore writes, lists, reads and removes a file.
func testStore(t *testing.T, store Store) {
	w, done, err := store.Create("test.txt")
	assert.NoError(t, err)
	_, err = w.Write([]byte("hello world"))
	assert.NoError(t, err)
	assert.NoError(t, w.Close())
	assert.NoError(t, <-done)

	names, err := store.List()
	assert.NoError(t, err)
	assert.Contains(t, names, "test.txt")

	r, err := store.Open("test.txt")
	assert.NoError(t, err)
	content, err := io.ReadAll(r)
	assert.NoError(t, err)
	assert.Equal(t, "hello world", string(content))
	assert.NoError(t, r.Close())

	assert.NoError(t, store.Remove("test.txt"))
	names, err = store.List()
	assert.NoError(t, err)
	assert.NotContains(t, names, "test.txt")
	_, err = store.Open("test.txt")
	assert.Error(t, err)
}

func TestPOSIX(t *testing.T) {
	client := NewPOSIX(path.Join(t.TempDir(), "blob"))
	names, err := client.List()
	assert.NoError(t, err)
	assert.Empty(t, names)
	testStore(t, client)
}

func TestPOSIX_Abort(t *testing.T) {
	client := NewPOSIX(t.TempDir())
	w, done, err := client.Create("model.bin")
	assert.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	assert.NoError(t, err)
	assert.NoError(t, w.(*io.PipeWriter).CloseWithError(io.ErrUnexpectedEOF))
	assert.ErrorIs(t, <-done, io.ErrUnexpectedEOF)
	// the destination is never created
	names, err := client.List()
	assert.NoError(t, err)
	assert.Empty(t, names)
}
