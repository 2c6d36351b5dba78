package documents

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/oncare-patient-gateway/internal/apperr"
	"github.com/wolfman30/oncare-patient-gateway/internal/cache"
	"github.com/wolfman30/oncare-patient-gateway/internal/patientapi"
	"github.com/wolfman30/oncare-patient-gateway/internal/retry"
)

type stubLister struct {
	mu    sync.Mutex
	docs  []patientapi.Document
	err   error
	gate  chan struct{}
	calls int32
}

func (s *stubLister) GetPatientDocuments(context.Context) ([]patientapi.Document, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]patientapi.Document{}, s.docs...), s.err
}

func (s *stubLister) set(docs []patientapi.Document) {
	s.mu.Lock()
	s.docs = docs
	s.mu.Unlock()
}

func makeDocs(n int) []patientapi.Document {
	out := make([]patientapi.Document, n)
	for i := range out {
		out[i] = patientapi.Document{ID: patientapi.ID(fmt.Sprint(i + 1)), Title: fmt.Sprintf("Report %d", i+1)}
	}
	return out
}

var fastPolicy = retry.Policy{MaxRetries: 2, Delay: time.Millisecond}

func TestPaging(t *testing.T) {
	src := &stubLister{docs: makeDocs(19)}
	svc := NewService(src, nil, time.Minute, fastPolicy, nil)
	ctx := context.Background()

	p1, err := svc.Page(ctx, "owner", 1)
	require.NoError(t, err)
	assert.Len(t, p1.Documents, 8)
	assert.True(t, p1.HasMore)
	assert.Equal(t, 19, p1.Total)

	svc.wg.Wait()
	p3, err := svc.Page(ctx, "owner", 3)
	require.NoError(t, err)
	assert.Len(t, p3.Documents, 3)
	assert.False(t, p3.HasMore)
	assert.Equal(t, patientapi.ID("17"), p3.Documents[0].ID)

	p9, err := svc.Page(ctx, "owner", 9)
	require.NoError(t, err)
	assert.Empty(t, p9.Documents)
	assert.False(t, p9.HasMore)

	_, err = svc.Page(ctx, "owner", 0)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	svc.wg.Wait()
}

func TestServesStaleAndRefreshesInBackground(t *testing.T) {
	src := &stubLister{docs: makeDocs(2)}
	svc := NewService(src, nil, time.Minute, fastPolicy, nil)
	ctx := context.Background()

	_, err := svc.Page(ctx, "owner", 1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&src.calls))

	src.set(makeDocs(3))
	stale, err := svc.Page(ctx, "owner", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, stale.Total)

	svc.wg.Wait()
	fresh, err := svc.Page(ctx, "owner", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, fresh.Total)
	svc.wg.Wait()
}

func TestSingleRefreshInFlightPerOwner(t *testing.T) {
	src := &stubLister{docs: makeDocs(1)}
	svc := NewService(src, nil, time.Minute, fastPolicy, nil)
	ctx := context.Background()

	_, err := svc.Page(ctx, "owner", 1)
	require.NoError(t, err)

	src.gate = make(chan struct{})
	for i := 0; i < 5; i++ {
		_, err := svc.Page(ctx, "owner", 1)
		require.NoError(t, err)
	}
	close(src.gate)
	svc.wg.Wait()
	assert.Equal(t, int32(2), atomic.LoadInt32(&src.calls))
}

func TestColdCacheFailureAndForget(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := cache.NewRedisCache(client, "test:")

	src := &stubLister{err: apperr.New(apperr.KindUnauthorized, "Session expired or unauthorized.")}
	svc := NewService(src, c, time.Minute, fastPolicy, nil)
	ctx := context.Background()

	_, err := svc.Page(ctx, "owner", 1)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	src.err = nil
	src.set(makeDocs(4))
	p, err := svc.Page(ctx, "owner", 1)
	require.NoError(t, err)
	assert.Equal(t, 4, p.Total)
	assert.True(t, mr.Exists("test:documents:owner"))

	svc.wg.Wait()
	svc.Forget("owner")
	assert.False(t, mr.Exists("test:documents:owner"))
}

func TestRefreshInFlightAtLogoutIsNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := cache.NewRedisCache(client, "test:")

	src := &stubLister{docs: makeDocs(3)}
	svc := NewService(src, c, time.Minute, fastPolicy, nil)
	ctx := context.Background()

	_, err := svc.Page(ctx, "sess", 1)
	require.NoError(t, err)

	src.gate = make(chan struct{})
	_, err = svc.Page(ctx, "sess", 1)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&src.calls) == 2 }, time.Second, time.Millisecond)

	svc.Forget("sess")
	close(src.gate)
	svc.wg.Wait()

	assert.False(t, mr.Exists("test:documents:sess"))
	var entry cached
	found, err := c.Get(ctx, key("sess"), &entry)
	require.NoError(t, err)
	assert.False(t, found)
}
