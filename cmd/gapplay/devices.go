package main

import (
	"fmt"

	"github.com/drgolem/go-portaudio/portaudio"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Print the PortAudio build version and device-kind help",
	Long: `Prints the linked PortAudio version and the device-kind/index flags
accepted by "play". go-portaudio exposes no device-enumeration call, so
picking a device index is done the same way the teacher's own cmd/player.go
does it: try an index, check the logged error, try another.`,
	Run: runDevices,
}

func runDevices(cmd *cobra.Command, args []string) {
	if err := portaudio.Initialize(); err != nil {
		fmt.Printf("portaudio initialize failed: %v\n", err)
		return
	}
	defer portaudio.Terminate()

	fmt.Printf("PortAudio version: %s\n", portaudio.GetVersion())
	fmt.Println(`Device kinds (--device-kind): alsa, oss, pulse, rsound, jack (all PortAudio-backed), wav, none.
Use --device <index> to select a PortAudio device index for the native kinds.`)
}
