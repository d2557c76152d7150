//go:build !linux

package main

import (
	"os"
	"runtime"

	"golang.design/x/hotkey/mainthread"
)

func init() {
	runtime.LockOSThread()
}

// The hotkey backend needs the main thread's event loop on darwin and
// windows, so run is handed to mainthread.
func main() {
	code := 0
	mainthread.Init(func() { code = run() })
	os.Exit(code)
}
