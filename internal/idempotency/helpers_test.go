package idempotency

import (
	"testing"
	"time"

	"github.com/imrishuroy/go-idempotent-taskbundle/internal/testutil"
)

const testTable = "idempotency-table"

var fixedNow = time.Unix(1_700_000_000, 0)

func newTestStore(t *testing.T) (*Store, *testutil.Dynamo) {
	t.Helper()
	db := testutil.NewDynamo().WithTable(testTable, "idempotency_key", "scope")
	s := NewStore(db, testTable, 48*time.Hour)
	s.nowFunc = func() time.Time { return fixedNow }
	return s, db
}

func registerRequest(email string) Request {
	return Request{
		Method: "POST",
		Path:   "/v1/auth/registers",
		Route:  "/v1/auth/registers",
		Body:   map[string]any{"email": email},
	}
}
