package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("PESAJES_TEST_MODE", "1")
		if os.Getenv("DB_PROFILE") == "" {
			_ = os.Setenv("DB_PROFILE", "sqlite")
		}
		// Keep tests away from a developer's Redis.
		_ = os.Setenv("REDIS_ADDR", "")
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
