// Package documents serves the patient's uploaded documents from a
// stale-while-revalidate cache in fixed-size pages.
package documents

import (
	"context"
	"sync"
	"time"

	"github.com/wolfman30/oncare-patient-gateway/internal/apperr"
	"github.com/wolfman30/oncare-patient-gateway/internal/cache"
	"github.com/wolfman30/oncare-patient-gateway/internal/patientapi"
	"github.com/wolfman30/oncare-patient-gateway/internal/retry"
	"github.com/wolfman30/oncare-patient-gateway/pkg/logging"
)

// PageSize is the number of documents per page.
const PageSize = 8

// DefaultTTL bounds how stale a cached list may get.
const DefaultTTL = 5 * time.Minute

// Lister is satisfied by *patientapi.Client.
type Lister interface {
	GetPatientDocuments(ctx context.Context) ([]patientapi.Document, error)
}

// Page is one page of documents.
type Page struct {
	Documents []patientapi.Document `json:"documents"`
	Page      int                   `json:"page"`
	PageSize  int                   `json:"page_size"`
	Total     int                   `json:"total"`
	HasMore   bool                  `json:"has_more"`
	FetchedAt time.Time             `json:"fetched_at"`
}

type cached struct {
	Documents []patientapi.Document `json:"documents"`
	FetchedAt time.Time             `json:"fetched_at"`
}

// Service lists documents per gateway session.
type Service struct {
	source Lister
	cache  cache.Cache
	ttl    time.Duration
	policy retry.Policy
	logger *logging.Logger
	now    func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
	// forgotten marks logged-out owners so a refresh that was already
	// running does not write their documents back.
	forgotten map[string]time.Time
	wg        sync.WaitGroup
}

// NewService creates a Service. A nil cache uses an in-memory one.
func NewService(source Lister, c cache.Cache, ttl time.Duration, policy retry.Policy, logger *logging.Logger) *Service {
	if c == nil {
		c = cache.NewMemoryCache()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		source:    source,
		cache:     c,
		ttl:       ttl,
		policy:    policy,
		logger:    logger.Component("documents"),
		now:       time.Now,
		inflight:  make(map[string]struct{}),
		forgotten: make(map[string]time.Time),
	}
}

// Page returns page n (1-based) of owner's documents. A cached list is
// served immediately and refreshed in the background; only a cold cache
// waits for the backend.
func (s *Service) Page(ctx context.Context, owner string, n int) (Page, error) {
	if n < 1 {
		return Page{}, apperr.Validation("page must be 1 or greater")
	}
	var entry cached
	found, err := s.cache.Get(ctx, key(owner), &entry)
	if err != nil {
		s.logger.Warn("documents cache read failed", "error", err)
		found = false
	}
	if found {
		s.refresh(ctx, owner)
	} else {
		entry, err = s.load(ctx, owner)
		if err != nil {
			return Page{}, err
		}
	}
	return paginate(entry, n), nil
}

// Forget drops owner's cached documents after logout. Loads still running
// for owner are not cached.
func (s *Service) Forget(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for o, at := range s.forgotten {
		if now.Sub(at) > s.ttl {
			delete(s.forgotten, o)
		}
	}
	s.forgotten[owner] = now
	if err := s.cache.Delete(context.Background(), key(owner)); err != nil {
		s.logger.Warn("documents cache delete failed", "error", err)
	}
}

func (s *Service) load(ctx context.Context, owner string) (cached, error) {
	docs, err := retry.Value(ctx, s.policy, "documents", s.source.GetPatientDocuments)
	if err != nil {
		return cached{}, err
	}
	entry := cached{Documents: docs, FetchedAt: s.now()}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, gone := s.forgotten[owner]; gone {
		return entry, nil
	}
	if err := s.cache.Set(ctx, key(owner), entry, s.ttl); err != nil {
		s.logger.Warn("documents cache write failed", "error", err)
	}
	return entry, nil
}

// refresh reloads owner's documents unless a reload is already running.
func (s *Service) refresh(ctx context.Context, owner string) {
	s.mu.Lock()
	if _, busy := s.inflight[owner]; busy {
		s.mu.Unlock()
		return
	}
	s.inflight[owner] = struct{}{}
	s.mu.Unlock()

	// Detached from the request but keeps its values, which carry the session.
	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, owner)
			s.mu.Unlock()
		}()
		if _, err := s.load(bg, owner); err != nil {
			s.logger.Warn("documents refresh failed", "error", err)
		}
	}()
}

func paginate(entry cached, n int) Page {
	total := len(entry.Documents)
	start := (n - 1) * PageSize
	if start > total {
		start = total
	}
	end := start + PageSize
	if end > total {
		end = total
	}
	docs := append([]patientapi.Document{}, entry.Documents[start:end]...)
	return Page{
		Documents: docs,
		Page:      n,
		PageSize:  PageSize,
		Total:     total,
		HasMore:   end < total,
		FetchedAt: entry.FetchedAt,
	}
}

func key(owner string) string { return "documents:" + owner }
