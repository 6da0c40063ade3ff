// Package dblock serializes packages whose tests truncate the shared
// Postgres database. go test runs packages in parallel processes, so the lock
// is a loopback listener rather than an in-process mutex.
package dblock

import (
	"net"
	"os"
	"time"
)

const defaultLockAddr = "127.0.0.1:45432"

// Acquire blocks until this process owns the lock and returns its release func.
// DBLOCK_ADDR overrides the address when the default port is taken.
func Acquire() func() {
	addr := os.Getenv("DBLOCK_ADDR")
	if addr == "" {
		addr = defaultLockAddr
	}
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return func() { ln.Close() }
		}
		time.Sleep(50 * time.Millisecond)
	}
}
