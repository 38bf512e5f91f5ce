package idempotency

import (
	"context"
	"errors"
	"fmt"
)

// Interceptor is the request-entry gate. It holds no per-key state of its own:
// the RecordStore's conditional writes are the only coordination between requests.
type Interceptor struct {
	store RecordStore
}

// NewInterceptor returns an Interceptor backed by store.
func NewInterceptor(store RecordStore) *Interceptor {
	return &Interceptor{store: store}
}

// Begin applies the decision table to an inbound request carrying key.
//
// Errors: ErrMissingKey, ErrUnfingerprintable, ErrKeyReuseConflict, ErrRequestInFlight, or a *StorageError
// (fail closed: the handler must not run).
func (i *Interceptor) Begin(ctx context.Context, req Request, key string) (Result, error) {
	if !IsMutating(req.Method) {
		return Result{Decision: DecisionPassThrough}, nil
	}
	if key == "" {
		return Result{}, ErrMissingKey
	}

	scope := Scope(req.Method, req.Route, req.Path)
	fp, err := Fingerprint(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrUnfingerprintable, err)
	}

	rec, err := i.store.Find(ctx, key, scope)
	if err != nil {
		return Result{}, err
	}
	if rec != nil {
		return decide(rec, fp)
	}

	if _, err := i.store.Create(ctx, key, scope, fp); err != nil {
		if !errors.Is(err, ErrDuplicateKey) {
			return Result{}, err
		}
		// Lost the create race: the winner's record is authoritative.
		rec, err = i.store.Find(ctx, key, scope)
		if err != nil {
			return Result{}, err
		}
		if rec == nil {
			return Result{}, storageErr("find", errors.New("record missing after duplicate create"))
		}
		return decide(rec, fp)
	}

	return Result{Decision: DecisionProceed, Ticket: NewTicket(key, scope, fp)}, nil
}

func decide(rec *Record, fingerprint string) (Result, error) {
	if rec.RequestFingerprint != fingerprint {
		return Result{}, ErrKeyReuseConflict
	}
	switch rec.Status {
	case StatusInProgress:
		return Result{}, ErrRequestInFlight
	case StatusFailed:
		return Result{Decision: DecisionReplayFailure, Record: rec}, nil
	case StatusCompleted:
		return Result{Decision: DecisionReplay, Record: rec}, nil
	default:
		return Result{}, storageErr("find", fmt.Errorf("unknown record status %q", rec.Status))
	}
}
