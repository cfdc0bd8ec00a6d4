package app

import (
	"os"
	"strconv"
)

// TestModeEnv, when true, makes the binaries return before opening stores or
// listening on ports.
const TestModeEnv = "PESAJES_TEST_MODE"

// InTestMode reports whether TestModeEnv is set to a true value.
func InTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	return err == nil && on
}
