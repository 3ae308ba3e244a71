// Package testing switches binaries into test mode for any test binary that
// imports it, so package tests never dial Postgres or Redis by accident.
package testing

import (
	"os"
	"sync"
)

var once sync.Once

// Ensure sets GL_TEST_MODE=1. It runs on import and is safe to call again.
func Ensure() {
	once.Do(func() {
		_ = os.Setenv("GL_TEST_MODE", "1")
		if os.Getenv("REDIS_ADDR") == "" {
			_ = os.Setenv("REDIS_ADDR", "127.0.0.1:0")
		}
	})
}

func init() {
	Ensure()
}
