// Command avatarvox voices avatar lines through remote speech providers with
// an on-device fallback.
//
//	avatarvox serve    --config config.yaml
//	avatarvox say      --avatar sage --text "Welcome, traveller." --out line.wav
//	avatarvox dialogue --script tavern.yaml --play
//	avatarvox probe    reply.bin
package main

import (
	"fmt"
	"os"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "avatarvox: %v\n", err)
		return 1
	}
	return 0
}
