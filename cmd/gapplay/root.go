package main

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:   "gapplay",
	Short: "GAP core playback engine CLI",
	Long: `gapplay drives the three-stage input/decoder/output pipeline
(pkg/engine) from the command line: open a file, log its notifications
to stderr, and tear the pipeline down cleanly on Ctrl-C.

Commands:
  - play: play a single file through the pipeline
  - playlist: play every entry of an M3U playlist in order
  - devices: print output device configuration help`,
}

func init() {
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(playlistCmd)
	rootCmd.AddCommand(devicesCmd)
}
