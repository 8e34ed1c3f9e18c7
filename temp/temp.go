// Package temp creates temporary snapshot repositories, for testing.
package temp

import (
	"fmt"
	"os"
)

const tempRepoPrefix = "/tmp/tmp-confbak-repo-"

// TempRepo creates a temporary repository path, for testing. Distinct names
// keep concurrent test packages out of each other's repositories.
func TempRepo(name string) string {
	path := tempRepoPrefix + name
	if err := os.MkdirAll(path, 0700); err != nil {
		panic(fmt.Sprintf("TempRepo: '%s': %v", path, err))
	}
	return path
}

// CleanupTempRepo erases a temporary repository path.
func CleanupTempRepo(name string) string {
	path := tempRepoPrefix + name
	if err := os.RemoveAll(path); err != nil {
		panic(fmt.Sprintf("CleanupTempRepo: '%s': %v", path, err))
	}
	return path
}
