// Copyright 2022 gorse Project Authors
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

package encoding

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"

	"github.com/juju/errors"
)

// WriteMatrix writes matrix to byte stream.
func WriteMatrix(w io.Writer, m [][]float32) error {
	for i := range m {
		err := binary.Write(w, binary.LittleEndian, m[i])
		if err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Lengths read from a stream are untrusted. Allocations grow with the data actually
// read, at most chunkSize elements ahead, so a corrupt length ends with an unexpected
// EOF instead of exhausting memory.
const chunkSize = 1 << 16

// MaxColumns bounds the width of matrices read from a stream.
const MaxColumns = 1 << 20

// truncated reports a stream that ends before a declared length as io.ErrUnexpectedEOF.
func truncated(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// ReadMatrix reads a rows x cols matrix written by WriteMatrix.
func ReadMatrix(r io.Reader, rows, cols int64) ([][]float32, error) {
	if rows < 0 || cols < 0 || cols > MaxColumns || (rows > 0 && cols == 0) {
		return nil, errors.NotValidf("matrix of %d x %d", rows, cols)
	}
	m := make([][]float32, 0, min(rows, chunkSize))
	for int64(len(m)) < rows {
		row := make([]float32, cols)
		if err := binary.Read(r, binary.LittleEndian, row); err != nil {
			return nil, errors.Trace(truncated(err))
		}
		m = append(m, row)
	}
	return m, nil
}

// WriteVector writes the length of a vector followed by its elements.
func WriteVector(w io.Writer, v []float32) error {
	if err := binary.Write(w, binary.LittleEndian, int64(len(v))); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(binary.Write(w, binary.LittleEndian, v))
}

// ReadVector reads a vector written by WriteVector.
func ReadVector(r io.Reader) ([]float32, error) {
	var n int64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, errors.Trace(err)
	}
	if n < 0 {
		return nil, errors.NotValidf("vector length %d", n)
	}
	v := make([]float32, 0, min(n, chunkSize))
	for int64(len(v)) < n {
		chunk := make([]float32, min(n-int64(len(v)), chunkSize))
		if err := binary.Read(r, binary.LittleEndian, chunk); err != nil {
			return nil, errors.Trace(truncated(err))
		}
		v = append(v, chunk...)
	}
	return v, nil
}

// WriteInt64 writes a 64-bit integer to byte stream.
func WriteInt64(w io.Writer, v int64) error {
	return errors.Trace(binary.Write(w, binary.LittleEndian, v))
}

// ReadInt64 reads a 64-bit integer from byte stream.
func ReadInt64(r io.Reader) (int64, error) {
	var v int64
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, errors.Trace(err)
}

// WriteString writes string to byte stream.
func WriteString(w io.Writer, s string) error {
	return WriteBytes(w, []byte(s))
}

// ReadString reads string from byte stream.
func ReadString(r io.Reader) (string, error) {
	data, err := ReadBytes(r)
	return string(data), err
}

// WriteBytes writes bytes to byte stream.
func WriteBytes(w io.Writer, s []byte) error {
	err := binary.Write(w, binary.LittleEndian, int32(len(s)))
	if err != nil {
		return err
	}
	n, err := w.Write(s)
	if err != nil {
		return err
	} else if n != len(s) {
		return errors.New("fail to write string")
	}
	return nil
}

// ReadBytes reads bytes from byte stream.
func ReadBytes(r io.Reader) ([]byte, error) {
	var length int32
	err := binary.Read(r, binary.LittleEndian, &length)
	if err != nil {
		return nil, err
	}
	if length < 0 {
		return nil, errors.NotValidf("length %d", length)
	}
	data, err := io.ReadAll(io.LimitReader(r, int64(length)))
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(data) < int(length) {
		return nil, errors.Trace(io.ErrUnexpectedEOF)
	}
	return data, nil
}

// WriteGob writes object to byte stream.
func WriteGob(w io.Writer, v interface{}) error {
	buffer := bytes.NewBuffer(nil)
	encoder := gob.NewEncoder(buffer)
	err := encoder.Encode(v)
	if err != nil {
		return err
	}
	return WriteBytes(w, buffer.Bytes())
}

// ReadGob read object from byte stream.
func ReadGob(r io.Reader, v interface{}) error {
	data, err := ReadBytes(r)
	if err != nil {
		return err
	}
	buffer := bytes.NewBuffer(data)
	decoder := gob.NewDecoder(buffer)
	return decoder.Decode(v)
}

