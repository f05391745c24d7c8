package app

import "os"

// TestModeEnv, when "1", makes both binaries return before touching Postgres or Redis.
const TestModeEnv = "REPLENISH_TEST_MODE"

// Mode selects how a binary starts.
type Mode int

const (
	// ModeServe connects to its dependencies and serves.
	ModeServe Mode = iota
	// ModeTest skips runtime side effects.
	ModeTest
)

// DetectMode reads the start mode through getenv.
func DetectMode(getenv func(string) string) Mode {
	if getenv(TestModeEnv) == "1" {
		return ModeTest
	}
	return ModeServe
}

// InTestMode reports whether the process environment selects ModeTest.
func InTestMode() bool {
	return DetectMode(os.Getenv) == ModeTest
}
