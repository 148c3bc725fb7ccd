// Copyright 2023 gorse Project Authors
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

package progress

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type spanKeyType string

var spanKeyName = spanKeyType(uuid.New().String())

type Status string

const (
	StatusPending  Status = "Pending"
	StatusComplete Status = "Complete"
	StatusRunning  Status = "Running"
	StatusFailed   Status = "Failed"
)

// Tracer collects root spans. OnProgress, if set, is called every time a root span or
// one of its descendants changes.
type Tracer struct {
	name       string
	spans      sync.Map
	OnProgress func(Progress)
}

func NewTracer(name string) *Tracer {
	return &Tracer{name: name}
}

// Start creates a root span.
func (t *Tracer) Start(ctx context.Context, name string, total int) (context.Context, *Span) {
	span := &Span{
		tracer: t,
		name:   name,
		status: StatusRunning,
		total:  total,
		start:  time.Now(),
	}
	t.spans.Store(name, span)
	return context.WithValue(ctx, spanKeyName, span), span
}

// List returns the progress of all root spans sorted by start time.
func (t *Tracer) List() []Progress {
	var progress []Progress
	t.spans.Range(func(_, value interface{}) bool {
		span := value.(*Span)
		progress = append(progress, span.Progress())
		return true
	})
	sort.Slice(progress, func(i, j int) bool {
		return progress[i].StartTime.Before(progress[j].StartTime)
	})
	return progress
}

func (t *Tracer) notify(span *Span) {
	if t != nil && t.OnProgress != nil {
		t.OnProgress(span.Progress())
	}
}

type Span struct {
	tracer   *Tracer
	parent   *Span
	name     string
	status   Status
	total    int
	count    int
	err      string
	start    time.Time
	finish   time.Time
	children sync.Map
	mu       sync.RWMutex
}

func (s *Span) Add(n int) {
	s.mu.Lock()
	s.count += n
	s.mu.Unlock()
	s.root().tracer.notify(s.root())
}

func (s *Span) End() {
	s.mu.Lock()
	if s.status == StatusRunning {
		s.status = StatusComplete
		s.count = s.total
		s.finish = time.Now()
	}
	s.mu.Unlock()
	if s.parent != nil {
		s.parent.children.Delete(s.name)
	}
	s.root().tracer.notify(s.root())
}

// Fail marks the span and all its ancestors as failed.
func (s *Span) Fail(err error) {
	for span := s; span != nil; span = span.parent {
		span.mu.Lock()
		span.status = StatusFailed
		span.err = err.Error()
		span.mu.Unlock()
	}
	s.root().tracer.notify(s.root())
}

func (s *Span) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

func (s *Span) root() *Span {
	span := s
	for span.parent != nil {
		span = span.parent
	}
	return span
}

// Progress summarizes a span. The progress of running children is folded into the
// count and total of their parent.
func (s *Span) Progress() Progress {
	s.mu.RLock()
	p := Progress{
		Name:       s.name,
		Status:     s.status,
		Error:      s.err,
		Count:      s.count,
		Total:      s.total,
		StartTime:  s.start,
		FinishTime: s.finish,
	}
	s.mu.RUnlock()
	if s.tracer != nil {
		p.Tracer = s.tracer.name
	}
	s.children.Range(func(_, value interface{}) bool {
		child := value.(*Span).Progress()
		if child.Total > 0 {
			p.Count = p.Count*child.Total + child.Count
			p.Total = p.Total * child.Total
		}
		return true
	})
	return p
}

// Start creates a child span of the span carried by ctx. A detached span is returned if
// ctx carries none.
func Start(ctx context.Context, name string, total int) (context.Context, *Span) {
	childSpan := &Span{
		name:   name,
		status: StatusRunning,
		total:  total,
		start:  time.Now(),
	}
	if ctx == nil {
		return context.Background(), childSpan
	}
	span, ok := ctx.Value(spanKeyName).(*Span)
	if ok {
		childSpan.parent = span
		span.children.Store(name, childSpan)
	}
	return context.WithValue(ctx, spanKeyName, childSpan), childSpan
}

// Fail marks the span carried by ctx as failed.
func Fail(ctx context.Context, err error) {
	span, ok := ctx.Value(spanKeyName).(*Span)
	if ok {
		span.Fail(err)
	}
}

type Progress struct {
	Tracer     string
	Name       string
	Status     Status
	Error      string
	Count      int
	Total      int
	StartTime  time.Time
	FinishTime time.Time
}
