// Command dmxplay is a demo player for Standard MIDI Files, id Software's
// MUS format, and DOOM's DMX PCM sound effects.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zurustar/vintage-audio/internal/refdriver"
	"github.com/zurustar/vintage-audio/pkg/cli"
	"github.com/zurustar/vintage-audio/pkg/engine"
	"github.com/zurustar/vintage-audio/pkg/fileutil"
	"github.com/zurustar/vintage-audio/pkg/logger"
	"github.com/zurustar/vintage-audio/pkg/midiplayer"
	"github.com/zurustar/vintage-audio/pkg/musplayer"
	"github.com/zurustar/vintage-audio/pkg/pcmplayer"
)

func main() {
	config, err := cli.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "dmxplay:", err)
		os.Exit(2)
	}
	if config.ShowHelp || config.FilePath == "" {
		cli.PrintHelp()
		if config.FilePath == "" && !config.ShowHelp {
			os.Exit(2)
		}
		return
	}

	if err := logger.InitLogger(config.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, "dmxplay:", err)
		os.Exit(2)
	}
	log := logger.GetLogger()

	if err := run(config, log); err != nil {
		log.Error("dmxplay: playback failed", "error", err)
		os.Exit(1)
	}
}

func run(config *cli.Config, log interface {
	Error(msg string, args ...any)
	Info(msg string, args ...any)
}) error {
	data, err := readAsset(config.FilePath)
	if err != nil {
		return err
	}

	format := config.Format
	if format == "" {
		format = guessFormat(config.FilePath)
	}

	volLeft := uint16(config.Volume * 0xFFFF / 100)
	volRight := volLeft

	notify := func(s engine.State) {
		log.Info("dmxplay: state changed", "state", s.String())
	}

	var done chan struct{}

	switch format {
	case "midi":
		driver, err := loadMIDIDriver(config)
		if err != nil {
			return err
		}
		if err := driver.SetVolume(volLeft, volRight); err != nil {
			return err
		}
		eng := midiplayer.New(driver, nil)
		h, err := eng.Open(data, config.DeviceID, notify)
		if err != nil {
			return fmt.Errorf("open MIDI file: %w", err)
		}
		defer eng.Close(h)
		eng.SetLooping(h, config.Loop)
		eng.Play(h)
		done = waitForStop(eng.IsStopped, h)

	case "mus":
		driver, err := loadMIDIDriver(config)
		if err != nil {
			return err
		}
		if err := driver.SetVolume(volLeft, volRight); err != nil {
			return err
		}
		eng := musplayer.New(driver, nil)
		h, err := eng.Open(data, config.DeviceID, notify)
		if err != nil {
			return fmt.Errorf("open MUS file: %w", err)
		}
		defer eng.Close(h)
		eng.SetLooping(h, config.Loop)
		eng.Play(h)
		done = waitForStop(eng.IsStopped, h)

	case "pcm":
		driver, err := refdriver.NewPCMDriver(refdriver.SampleRate, 8, 1)
		if err != nil {
			return err
		}
		eng := pcmplayer.New(driver, nil, nil)
		h, err := eng.Open(data, 8, 1, config.DeviceID, notify)
		if err != nil {
			return fmt.Errorf("open PCM sample: %w", err)
		}
		defer eng.Close(h)
		eng.SetVolume(h, volLeft, volRight)
		eng.SetLooping(h, config.Loop)
		eng.Play(h)
		done = waitForStop(eng.IsStopped, h)

	default:
		return fmt.Errorf("unrecognized format %q (use --format midi|mus|pcm)", format)
	}

	if config.Timeout > 0 {
		select {
		case <-done:
		case <-time.After(config.Timeout):
		}
	} else {
		<-done
	}
	return nil
}

func loadMIDIDriver(config *cli.Config) (*refdriver.MIDIDriver, error) {
	if config.SoundFont == "" {
		return nil, refdriver.ErrNoSoundFont
	}
	return refdriver.NewMIDIDriverFromFile(config.SoundFont, nil)
}

func readAsset(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}
	found, ferr := fileutil.FindFileCaseInsensitive(filepath.Dir(path), filepath.Base(path))
	if ferr != nil {
		return nil, err
	}
	return os.ReadFile(found)
}

func guessFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mid", ".midi":
		return "midi"
	case ".mus":
		return "mus"
	default:
		return "pcm"
	}
}

// waitForStop returns a channel that closes once isStopped(h) first
// reports true, for any handle type with the engine's IsStopped shape.
func waitForStop[H any](isStopped func(H) bool, h H) chan struct{} {
	ch := make(chan struct{})
	go func() {
		for !isStopped(h) {
			time.Sleep(10 * time.Millisecond)
		}
		close(ch)
	}()
	return ch
}
