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

package dataset

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/juju/errors"
)

func itoa(i int) string {
	return strconv.Itoa(i)
}

// LoadInteractionsFromFile loads interactions from a tab-separated file.
func LoadInteractionsFromFile(path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	return LoadInteractions(file)
}

// LoadInteractions reads lines of the form
//
//	user<TAB>item[<TAB>rating[<TAB>timestamp]]
//
// Empty lines and lines starting with '#' are skipped. The rating defaults to 1. The
// timestamp is either unix seconds or a date in any layout dateparse detects.
func LoadInteractions(r io.Reader) (*Dataset, error) {
	dataset := NewDataset(0, 0)
	scanner := bufio.NewScanner(r)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			return nil, errors.Errorf("line %d: expect at least 2 fields but got %d", lineNumber, len(fields))
		}
		rating := float32(1)
		if len(fields) > 2 && fields[2] != "" {
			value, err := strconv.ParseFloat(fields[2], 32)
			if err != nil {
				return nil, errors.Annotatef(err, "line %d", lineNumber)
			}
			rating = float32(value)
		}
		var timestamp time.Time
		if len(fields) > 3 && fields[3] != "" {
			parsed, err := dateparse.ParseAny(fields[3])
			if err != nil {
				return nil, errors.Annotatef(err, "failed to parse datetime `%v` at line %d", fields[3], lineNumber)
			}
			timestamp = parsed.UTC()
		}
		dataset.AddFeedback(fields[0], fields[1], rating, timestamp)
	}
	return dataset, errors.Trace(scanner.Err())
}

// LoadAttributesFromFile loads attributes from a tab-separated file.
func LoadAttributesFromFile(path string, register func(string) int32) (*Attributes, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	return LoadAttributes(file, register)
}

// LoadAttributes reads lines of the form
//
//	entity<TAB>attribute[<TAB>attribute...]
//
// register maps an external entity identifier to its index, usually Dataset.AddItem or
// Dataset.AddUser, so entities only known by their attributes become cold entities.
func LoadAttributes(r io.Reader, register func(string) int32) (*Attributes, error) {
	attributes := NewAttributes()
	scanner := bufio.NewScanner(r)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			return nil, errors.Errorf("line %d: expect at least 2 fields but got %d", lineNumber, len(fields))
		}
		entity := register(fields[0])
		for _, name := range fields[1:] {
			if name = strings.TrimSpace(name); name != "" {
				attributes.AddNamed(entity, name)
			}
		}
	}
	return attributes, errors.Trace(scanner.Err())
}
