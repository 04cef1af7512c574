package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
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
	playDeviceKind      string
	playDeviceIndex     int
	playFramesPerBuffer int
	playWavPath         string
	playVolume          float64
	playReplayGain      string
	playResample        bool
	playVerbose         bool
)

var playCmd = &cobra.Command{
	Use:   "play <audio_file>",
	Short: "Play one audio file through the pipeline",
	Long: `Opens a single file via the input stage and streams it through the
decoder and output stages, printing notification events (BOS/EOS/
TimeUpdate/MetaInfo/ErrorMessage) as they arrive.

Examples:
  gapplay play music.flac
  gapplay play -k wav --wav-path out.wav music.mp3
  gapplay play -k alsa --device 2 music.ogg`,
	Args: cobra.ExactArgs(1),
	Run:  runPlay,
}

func init() {
	playCmd.Flags().StringVarP(&playDeviceKind, "device-kind", "k", "alsa", "output device kind: alsa|oss|pulse|rsound|jack|wav|none")
	playCmd.Flags().IntVarP(&playDeviceIndex, "device", "d", -1, "PortAudio device index (native kinds only)")
	playCmd.Flags().IntVarP(&playFramesPerBuffer, "frames", "f", 512, "audio frames per buffer")
	playCmd.Flags().StringVar(&playWavPath, "wav-path", "", "output WAV path (device-kind=wav only)")
	playCmd.Flags().Float64Var(&playVolume, "volume", 1.0, "initial volume")
	playCmd.Flags().StringVar(&playReplayGain, "replaygain", "off", "replay gain mode: off|track|album")
	playCmd.Flags().BoolVar(&playResample, "resample", false, "resample instead of rejecting a stream/device rate mismatch")
	playCmd.Flags().BoolVarP(&playVerbose, "verbose", "v", false, "debug logging")
}

func runPlay(cmd *cobra.Command, args []string) {
	path := args[0]
	log := applog.New(playVerbose)

	if _, err := os.Stat(path); err != nil {
		log.Error("file not found", "path", path, "error", err)
		os.Exit(1)
	}

	log.Info("initializing portaudio")
	if err := portaudio.Initialize(); err != nil {
		log.Error("portaudio initialize failed", "error", err)
		os.Exit(1)
	}
	defer portaudio.Terminate()
	log.Info("portaudio ready", "version", portaudio.GetVersion())

	cfg := apconfig.OutputConfig{
		Kind:                     playDeviceKind,
		PortAudioDeviceIndex:     playDeviceIndex,
		PortAudioFramesPerBuffer: playFramesPerBuffer,
		WavPath:                  playWavPath,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := engine.New(ctx, engine.Config{
		DeviceKind:   cfg.DeviceKind(),
		DeviceConfig: cfg.DeviceConfig(),
		Log:          log,
		Resample:     playResample,
	})
	if err != nil {
		log.Error("engine init failed", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	notifyDone := make(chan struct{})
	go watchNotifications(eng, log, notifyDone)

	stream := eng.Open(path)
	eng.Volume(stream, playVolume)
	eng.SetReplayGainMode(stream, replayGainModeFromFlag(playReplayGain))

	select {
	case <-sigCh:
		log.Info("interrupted, shutting down")
	case <-notifyDone:
		log.Info("playback finished")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", "error", err)
	}
}

func replayGainModeFromFlag(s string) apevent.ReplayGainMode {
	switch s {
	case "track":
		return apevent.ReplayGainTrack
	case "album":
		return apevent.ReplayGainAlbum
	default:
		return apevent.ReplayGainOff
	}
}

func watchNotifications(eng *engine.Engine, log *slog.Logger, done chan struct{}) {
	defer close(done)
	ctx := context.Background()
	for {
		ev, err := eng.Notifications().Pop(ctx)
		if err != nil {
			return
		}
		switch e := ev.(type) {
		case *apevent.BOS:
			log.Info("beginning of stream")
		case *apevent.EOS:
			log.Info("end of stream")
			return
		case *apevent.StateReady:
			log.Info("state: ready")
		case *apevent.StatePlaying:
			log.Info("state: playing")
		case *apevent.StatePausing:
			log.Info("state: paused")
		case *apevent.TimeUpdate:
			log.Info("time", "position_s", e.PositionSeconds, "length_s", e.LengthSeconds)
		case *apevent.MetaInfo:
			log.Info("metadata", "title", e.Title, "artist", e.Artist, "album", e.Album)
		case *apevent.ErrorMessage:
			log.Error("pipeline error", "message", e.Text)
			return
		case *apevent.VolumeNotify:
			log.Info("volume", "value", e.Value, "enabled", e.Enabled)
		}
	}
}
