package testutil

import (
	"fmt"
	"strings"
	"testing"

	"github.com/Vicaadrn/web-scanner-project/internal/store/sqlite"
)

// NewSQLiteStore opens a private in-memory SQLite store closed at the end
// of the test.
func NewSQLiteStore(t testing.TB) *sqlite.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", name)
	s, err := sqlite.Open(dsn, &DummyLogger{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}
