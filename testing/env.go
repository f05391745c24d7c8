// Package testing prepares the process environment for package tests. Blank-import it
// from a _test.go file.
package testing

import "os"

// Defaults are applied to variables the environment leaves unset.
var Defaults = map[string]string{
	"REPLENISH_TEST_MODE": "1",
	"SERVICE_TOKEN":       "test-token",
	"LOG_FORMAT":          "json",
}

func init() {
	Apply(os.LookupEnv, os.Setenv)
}

// Apply sets every default that lookup reports missing.
func Apply(lookup func(string) (string, bool), set func(string, string) error) {
	for key, value := range Defaults {
		if _, ok := lookup(key); !ok {
			_ = set(key, value)
		}
	}
}
