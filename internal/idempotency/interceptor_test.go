package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBegin_PassThroughForSafeMethods(t *testing.T) {
	s, db := newTestStore(t)
	ic := NewInterceptor(s)

	for _, m := range []string{"GET", "HEAD", "OPTIONS"} {
		res, err := ic.Begin(context.Background(), Request{Method: m, Path: "/health"}, "")
		require.NoError(t, err)
		assert.Equal(t, DecisionPassThrough, res.Decision)
	}
	assert.Zero(t, db.Calls("GetItem"))
	assert.Zero(t, db.Calls("PutItem"))
}

func TestBegin_MissingKeyNeverTouchesStorage(t *testing.T) {
	s, db := newTestStore(t)
	ic := NewInterceptor(s)

	_, err := ic.Begin(context.Background(), registerRequest("a@x.com"), "")
	assert.ErrorIs(t, err, ErrMissingKey)
	assert.Zero(t, db.Calls("GetItem"))
	assert.Zero(t, db.Calls("PutItem"))
}

func TestBegin_DecisionTable(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	ic := NewInterceptor(s)
	req := registerRequest("a@x.com")

	// absent -> proceed with a ticket
	res, err := ic.Begin(ctx, req, "abc")
	require.NoError(t, err)
	require.Equal(t, DecisionProceed, res.Decision)
	require.NotNil(t, res.Ticket)
	assert.Equal(t, "abc", res.Ticket.Key)
	assert.Equal(t, "POST:/v1/auth/registers", res.Ticket.Scope)

	// in progress + same payload -> in flight
	_, err = ic.Begin(ctx, req, "abc")
	assert.ErrorIs(t, err, ErrRequestInFlight)

	// different payload -> conflict, record untouched
	_, err = ic.Begin(ctx, registerRequest("b@y.com"), "abc")
	assert.ErrorIs(t, err, ErrKeyReuseConflict)
	rec, err := s.Find(ctx, "abc", "POST:/v1/auth/registers")
	require.NoError(t, err)
	assert.Equal(t, res.Ticket.Fingerprint, rec.RequestFingerprint)
	assert.Equal(t, StatusInProgress, rec.Status)

	// completed -> replay
	require.NoError(t, s.Update(ctx, "abc", "POST:/v1/auth/registers", Completion{
		Status: StatusCompleted, ResponseStatusCode: 201, ResponseMessage: "Success!",
		ResponseBody: `{"success":true,"email":"a@x.com"}`,
	}))
	res, err = ic.Begin(ctx, req, "abc")
	require.NoError(t, err)
	assert.Equal(t, DecisionReplay, res.Decision)
	assert.Equal(t, `{"success":true,"email":"a@x.com"}`, res.Record.ResponseBody)

	// conflict still wins over replay
	_, err = ic.Begin(ctx, registerRequest("b@y.com"), "abc")
	assert.ErrorIs(t, err, ErrKeyReuseConflict)
}

func TestBegin_ReplaysFailure(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	ic := NewInterceptor(s)
	req := registerRequest("a@x.com")

	res, err := ic.Begin(ctx, req, "k")
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, res.Ticket.Key, res.Ticket.Scope, Completion{
		Status: StatusFailed, ResponseStatusCode: 403, ResponseMessage: "user email already registered", ResponseBody: "{}",
	}))

	res, err = ic.Begin(ctx, req, "k")
	require.NoError(t, err)
	assert.Equal(t, DecisionReplayFailure, res.Decision)
	assert.Equal(t, 403, res.Record.ResponseStatusCode)
	assert.Equal(t, "user email already registered", res.Record.ResponseMessage)
}

func TestBegin_SameKeyOnAnotherEndpointIsIndependent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	ic := NewInterceptor(s)

	_, err := ic.Begin(ctx, registerRequest("a@x.com"), "shared")
	require.NoError(t, err)

	other := Request{Method: "POST", Path: "/v1/boards", Route: "/v1/boards", Body: map[string]any{"title": "t"}}
	res, err := ic.Begin(ctx, other, "shared")
	require.NoError(t, err)
	assert.Equal(t, DecisionProceed, res.Decision)
}

func TestBegin_UnfingerprintablePayloadIsNotAStorageError(t *testing.T) {
	s, db := newTestStore(t)
	ic := NewInterceptor(s)

	req := registerRequest("")
	req.Body = map[string]any{"caf\u00e9": 1, "cafe\u0301": 2}
	_, err := ic.Begin(context.Background(), req, "k")
	assert.ErrorIs(t, err, ErrUnfingerprintable)
	assert.NotErrorIs(t, err, ErrStorage)
	assert.Zero(t, db.Calls("GetItem"))
	assert.Zero(t, db.Calls("PutItem"))
}

func TestBegin_FailsClosedOnStorageError(t *testing.T) {
	s, db := newTestStore(t)
	ic := NewInterceptor(s)

	db.FailWith("GetItem", errors.New("timeout"))
	res, err := ic.Begin(context.Background(), registerRequest("a@x.com"), "k")
	assert.ErrorIs(t, err, ErrStorage)
	assert.Nil(t, res.Ticket)
	assert.Zero(t, db.Calls("PutItem"))

	db.FailWith("GetItem", nil)
	db.FailWith("PutItem", errors.New("throttled"))
	res, err = ic.Begin(context.Background(), registerRequest("a@x.com"), "k")
	assert.ErrorIs(t, err, ErrStorage)
	assert.Nil(t, res.Ticket)
}

// racingStore reports the record absent on the first Find, as if a concurrent
// request created it between our Find and Create.
type racingStore struct {
	RecordStore
	mu       sync.Mutex
	hidFirst bool
}

func (r *racingStore) Find(ctx context.Context, key, scope string) (*Record, error) {
	r.mu.Lock()
	hide := !r.hidFirst
	r.hidFirst = true
	r.mu.Unlock()
	if hide {
		return nil, nil
	}
	return r.RecordStore.Find(ctx, key, scope)
}

func TestBegin_DuplicateCreateIsTreatedAsInFlight(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	req := registerRequest("a@x.com")

	_, err := NewInterceptor(s).Begin(ctx, req, "xyz")
	require.NoError(t, err)

	_, err = NewInterceptor(&racingStore{RecordStore: s}).Begin(ctx, req, "xyz")
	assert.ErrorIs(t, err, ErrRequestInFlight)
	assert.NotErrorIs(t, err, ErrStorage)
}

func TestBegin_ConcurrentDuplicatesAdmitExactlyOne(t *testing.T) {
	s, _ := newTestStore(t)
	ic := NewInterceptor(s)
	req := registerRequest("a@x.com")

	const n = 32
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		proceed  int
		inFlight int
		other    []error
	)
	start := make(chan struct{})
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := ic.Begin(context.Background(), req, "xyz")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Decision == DecisionProceed:
				proceed++
			case errors.Is(err, ErrRequestInFlight):
				inFlight++
			default:
				other = append(other, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, proceed)
	assert.Equal(t, n-1, inFlight)
	assert.Empty(t, other)
}
