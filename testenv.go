package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"parley/audio"
	"parley/config"
	"parley/cue"
	"parley/log"
)

// runTestMode drives one conversation headlessly from stdin, capturing from
// a WAV file and playing into a fake output. Each line is a command:
// TOGGLE, SEND, WAIT, WAIT_AUDIO, RESET, STATE, SLEEP <ms> or QUIT.
func runTestMode(cfg *config.Config, wavPath string) int {
	cue.Disable()

	fakeCtx, err := audio.NewFakeContextFromWAV(wavPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
		return 1
	}

	a, err := newApp(fakeCtx, cfg, appOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer a.close()

	log.SessionStart(cfg.Endpoint, "fake", cfg.Audio.Format)
	defer func() { log.SessionEnd(a.conv.Turns()) }()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		switch cmd {
		case "":
		case "TOGGLE":
			if err := a.conv.Toggle(); err != nil {
				fmt.Printf("ERROR %s\n", err)
			}
		case "SEND":
			if err := a.conv.Send(); err != nil {
				fmt.Printf("ERROR %s\n", err)
			}
		case "WAIT":
			a.conv.Wait()
			if err := a.conv.LastError(); err != nil {
				fmt.Printf("TURN_ERROR %s\n", err)
			}
		case "WAIT_AUDIO":
			if caps := fakeCtx.Captures(); len(caps) > 0 {
				if done := caps[len(caps)-1].AudioDone(); done != nil {
					<-done
				}
			}
		case "RESET":
			id, err := a.conv.Reset()
			if err != nil {
				fmt.Printf("ERROR %s\n", err)
				continue
			}
			fmt.Printf("SESSION %s\n", id)
		case "STATE":
			fmt.Printf("STATE %s %s\n", a.conv.State(), a.conv.SessionID())
		case "QUIT":
			return 0
		default:
			if ms, ok := strings.CutPrefix(cmd, "SLEEP "); ok {
				if n, err := strconv.Atoi(ms); err == nil {
					time.Sleep(time.Duration(n) * time.Millisecond)
				}
				continue
			}
			fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		}
	}
	return 0
}
