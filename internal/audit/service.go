// Copyright 2026 The AuthzEngine Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package audit maintains the tamper-evident decision log. Every recorded
// entry carries a SHA-256 request hash and links to its predecessor through
// a per-tenant hash chain, so retroactive edits are detectable by
// re-deriving the chain from its seed.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/authzengine/authzengine/internal/id"
	"github.com/authzengine/authzengine/internal/observability/logger"
	"github.com/authzengine/authzengine/internal/observability/metrics"
)

const (
	defaultBufferSize    = 1024
	defaultFlushInterval = time.Second

	flushBatchSize = 100
	flushTimeout   = 10 * time.Second

	// degradedWindow is how long a failed append keeps the service
	// reporting degraded health.
	degradedWindow = 5 * time.Minute
)

// Config holds the write-behind buffer settings.
type Config struct {
	BufferSize    int
	FlushInterval time.Duration
}

// Service records, queries and verifies audit entries. Recording is
// write-behind: entries are buffered and a background goroutine appends
// them to storage in arrival order, so the decision path never waits on
// the audit table.
type Service struct {
	log   *slog.Logger
	meter *metrics.Meter
	repo  Repository

	queue  chan *Entry
	done   chan struct{}
	closed sync.Once

	flushInterval time.Duration
	lastFailure   atomic.Int64
}

// NewService creates the audit service and starts its background writer.
func NewService(repo Repository, cfg Config, meter *metrics.Meter, log *slog.Logger) *Service {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	s := &Service{
		log:           log,
		meter:         meter,
		repo:          repo,
		queue:         make(chan *Entry, cfg.BufferSize),
		done:          make(chan struct{}),
		flushInterval: cfg.FlushInterval,
	}
	go s.processQueue()
	return s
}

// Record queues an entry for persistence, filling in its id, timestamp and
// request hash. The chain link (PreviousHash) is assigned by the repository
// at write time. When the buffer is full the entry is written inline so no
// decision goes unrecorded.
func (s *Service) Record(ctx context.Context, entry *Entry) {
	if entry.ID == "" {
		entry.ID = id.NewUUIDv7()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entry.RequestHash = RequestHash(EntryCanonical(entry))

	select {
	case s.queue <- entry:
	default:
		s.log.Warn("audit buffer full, writing inline",
			logger.TenantID(entry.TenantID),
			logger.PrincipalID(entry.PrincipalID))
		s.append(ctx, entry)
	}
}

// Query returns entries matching the filter.
func (s *Service) Query(ctx context.Context, filter QueryFilter) ([]*Entry, error) {
	if filter.TenantID == "" {
		return nil, ErrTenantRequired
	}
	entries, err := s.repo.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	return entries, nil
}

// Verify re-derives the tenant's full chain from the seed and reports the
// first mismatch, if any.
func (s *Service) Verify(ctx context.Context, tenantID string) (*VerifyReport, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	entries, err := s.repo.ListChain(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit chain: %w", err)
	}
	return VerifyChain(tenantID, entries), nil
}

// Degraded reports whether an append failed recently. The health endpoint
// downgrades the service status while this holds.
func (s *Service) Degraded() bool {
	t := s.lastFailure.Load()
	return t > 0 && time.Since(time.Unix(0, t)) < degradedWindow
}

// Close flushes buffered entries and stops the background writer. Record
// must not be called after Close.
func (s *Service) Close() {
	s.closed.Do(func() {
		close(s.queue)
		<-s.done
	})
}

func (s *Service) processQueue() {
	defer close(s.done)

	batch := make([]*Entry, 0, flushBatchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry, ok := <-s.queue:
			if !ok {
				s.flush(batch)
				return
			}
			batch = append(batch, entry)
			if len(batch) >= flushBatchSize {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

// flush runs detached from any request context; the entries it writes
// belong to requests that already returned.
func (s *Service) flush(batch []*Entry) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for _, entry := range batch {
		s.append(ctx, entry)
	}
}

func (s *Service) append(ctx context.Context, entry *Entry) {
	if err := s.repo.Append(ctx, entry); err != nil {
		s.lastFailure.Store(time.Now().UnixNano())
		if s.meter != nil {
			s.meter.RecordAuditFailure(ctx)
		}
		s.log.Error("failed to append audit entry",
			logger.TenantID(entry.TenantID),
			slog.String("entry_id", entry.ID),
			logger.Error(err))
		return
	}
	s.echo(ctx, entry)
}

// echo mirrors a persisted entry to the structured log at debug level,
// with secret-looking metadata keys redacted.
func (s *Service) echo(ctx context.Context, entry *Entry) {
	if !s.log.Enabled(ctx, slog.LevelDebug) {
		return
	}

	attrs := []any{
		slog.String("entry_id", entry.ID),
		logger.TenantID(entry.TenantID),
		logger.PrincipalID(entry.PrincipalID),
		logger.Action(entry.Action),
		logger.ResourceType(entry.ResourceType),
		logger.ResourceID(entry.ResourceID),
		slog.String("decision", string(entry.Decision)),
	}

	if len(entry.Metadata) > 0 {
		group := []any{}
		for k, v := range entry.Metadata {
			if isSecret(k) {
				v = "[REDACTED]"
			}
			group = append(group, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("metadata", group...))
	}

	s.log.DebugContext(ctx, "audit entry appended", attrs...)
}

var secretKeywords = []string{"password", "secret", "token", "key", "hash", "credential", "authorization"}

// isSecret checks if a metadata key likely contains a secret
func isSecret(key string) bool {
	k := strings.ToLower(key)
	for _, s := range secretKeywords {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
