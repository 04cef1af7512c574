package main

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/drgolem/go-portaudio/portaudio"
	"github.com/spf13/cobra"

	"github.com/gogglesmm/gap-core/internal/applog"
	"github.com/gogglesmm/gap-core/pkg/apconfig"
	"github.com/gogglesmm/gap-core/pkg/apevent"
	"github.com/gogglesmm/gap-core/pkg/engine"

	_ "github.com/gogglesmm/gap-core/pkg/outplugin/nulldev"
	_ "github.com/gogglesmm/gap-core/pkg/outplugin/portaudiodev"
	_ "github.com/gogglesmm/gap-core/pkg/outplugin/wavdev"
)

var (
	playlistDeviceKind string
	playlistVerbose    bool
)

var playlistCmd = &cobra.Command{
	Use:   "playlist <m3u_file>",
	Short: "Play every entry of an M3U playlist in order",
	Long: `Reads a plain M3U file (one path per line, blank lines and "#"
comments skipped) and plays each entry on the same engine in turn,
waiting for EOS or a pipeline error before advancing -- the sequential
multi-track playback cmd/gapplay's single-file play command doesn't do
on its own (one input-stage Open only follows an *embedded* playlist
redirect one hop; this command iterates the list itself).`,
	Args: cobra.ExactArgs(1),
	Run:  runPlaylist,
}

func init() {
	playlistCmd.Flags().StringVarP(&playlistDeviceKind, "device-kind", "k", "alsa", "output device kind: alsa|oss|pulse|rsound|jack|wav|none")
	playlistCmd.Flags().BoolVarP(&playlistVerbose, "verbose", "v", false, "debug logging")
}

func readM3U(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	return entries, sc.Err()
}

func runPlaylist(cmd *cobra.Command, args []string) {
	log := applog.New(playlistVerbose)

	entries, err := readM3U(args[0])
	if err != nil {
		log.Error("read playlist", "path", args[0], "error", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		log.Error("playlist has no entries", "path", args[0])
		os.Exit(1)
	}

	log.Info("portaudio initializing")
	if err := portaudio.Initialize(); err != nil {
		log.Error("portaudio initialize failed", "error", err)
		os.Exit(1)
	}
	defer portaudio.Terminate()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := apconfig.OutputConfig{Kind: playlistDeviceKind}
	eng, err := engine.New(ctx, engine.Config{
		DeviceKind:   cfg.DeviceKind(),
		DeviceConfig: cfg.DeviceConfig(),
		Log:          log,
	})
	if err != nil {
		log.Error("engine init failed", "error", err)
		os.Exit(1)
	}

	for i, path := range entries {
		log.Info("playlist entry", "index", i, "path", path)
		if !playOneBlocking(eng, log, path) {
			log.Warn("playlist entry failed, continuing", "path", path)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", "error", err)
	}
}

// playOneBlocking opens path and blocks until its stream reaches EOS or
// reports an error, returning false on error. Notifications for streams
// other than the one just opened (a late EOS from the previous entry, for
// instance) are popped and discarded.
func playOneBlocking(eng *engine.Engine, log *slog.Logger, path string) bool {
	stream := eng.Open(path)

	ctx := context.Background()
	for {
		ev, err := eng.Notifications().Pop(ctx)
		if err != nil {
			return false
		}
		if ev.Stream() != stream {
			continue
		}
		switch e := ev.(type) {
		case *apevent.EOS:
			return true
		case *apevent.ErrorMessage:
			log.Error("pipeline error", "message", e.Text)
			return false
		}
	}
}
