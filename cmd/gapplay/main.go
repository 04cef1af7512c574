// Command gapplay is the CLI front end for the engine, grounded on the
// teacher's cmd/root.go cobra setup (musictools' own `learnRingbuffer`
// binary) generalized from a single flat player command to the pipeline's
// full control surface: play, playlist, devices.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
