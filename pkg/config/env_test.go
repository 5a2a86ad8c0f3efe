package config_test

import (
	"os"
	"testing"
)

// unsetenv unsets the given keys for the duration of the test. The keys need to have been set
// using t.Setenv before so they are restored on cleanup.
func unsetenv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("failed to unset %s: %v", key, err)
		}
	}
}
