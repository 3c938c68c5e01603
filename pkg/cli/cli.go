// Package cli parses the demo command's command-line arguments.
package cli

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the demo command's parsed settings.
type Config struct {
	FilePath  string        // path to the score/sample asset to play
	Format    string        // "midi", "mus", "pcm", or "" to guess from extension
	SoundFont string        // path to a SoundFont (.sf2), required for midi/mus
	Loop      bool          // enable looping playback
	Volume    int           // 0-100, scaled to the driver's 16-bit attenuation
	DeviceID  int           // output device index
	Timeout   time.Duration // 0 means unlimited
	LogLevel  string        // debug, info, warn, error
	ShowHelp  bool
}

// ParseArgs parses args (excluding the program name) into a Config.
func ParseArgs(args []string) (*Config, error) {
	reorderedArgs := reorderArgs(args)

	fs := flag.NewFlagSet("dmxplay", flag.ContinueOnError)
	config := &Config{}

	var timeoutSec int
	fs.IntVar(&timeoutSec, "timeout", 0, "stop playback after N seconds (0 = unlimited)")
	fs.IntVar(&timeoutSec, "t", 0, "timeout, shorthand")
	fs.StringVar(&config.Format, "format", "", "asset format: midi, mus, or pcm (default: guess from extension)")
	fs.StringVar(&config.Format, "f", "", "format, shorthand")
	fs.StringVar(&config.SoundFont, "soundfont", "", "SoundFont (.sf2) path, required for midi/mus playback")
	fs.BoolVar(&config.Loop, "loop", false, "enable looping playback")
	fs.IntVar(&config.Volume, "volume", 100, "playback volume, 0-100")
	fs.IntVar(&config.DeviceID, "device", 0, "output device index")
	fs.StringVar(&config.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.StringVar(&config.LogLevel, "l", "info", "log level, shorthand")
	fs.BoolVar(&config.ShowHelp, "help", false, "show this help")
	fs.BoolVar(&config.ShowHelp, "h", false, "show this help, shorthand")

	if err := fs.Parse(reorderedArgs); err != nil {
		return nil, err
	}

	if timeoutSec == 0 {
		if timeoutEnv := os.Getenv("TIMEOUT"); timeoutEnv != "" {
			if t, err := strconv.Atoi(timeoutEnv); err == nil && t > 0 {
				timeoutSec = t
			}
		}
	}
	if config.LogLevel == "info" {
		if logLevelEnv := os.Getenv("LOG_LEVEL"); logLevelEnv != "" {
			config.LogLevel = strings.ToLower(logLevelEnv)
		}
	}

	if timeoutSec < 0 {
		return nil, fmt.Errorf("timeout must be non-negative, got %d", timeoutSec)
	}
	config.Timeout = time.Duration(timeoutSec) * time.Second

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[config.LogLevel] {
		return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.LogLevel)
	}

	if config.Volume < 0 || config.Volume > 100 {
		return nil, fmt.Errorf("volume must be between 0 and 100, got %d", config.Volume)
	}

	if fs.NArg() > 0 {
		config.FilePath = fs.Arg(0)
	}

	return config, nil
}

// reorderArgs moves flags before positional arguments so flag.FlagSet
// (which stops parsing at the first non-flag argument) sees all of them.
func reorderArgs(args []string) []string {
	var flags []string
	var positional []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if len(arg) > 0 && arg[0] == '-' {
			flags = append(flags, arg)
			if i+1 < len(args) && len(args[i+1]) > 0 && args[i+1][0] != '-' {
				if arg != "-h" && arg != "--help" && arg != "-loop" && arg != "--loop" {
					i++
					flags = append(flags, args[i])
				}
			}
		} else {
			positional = append(positional, arg)
		}
	}

	return append(flags, positional...)
}

// PrintHelp prints the demo command's usage message.
func PrintHelp() {
	fmt.Fprintf(os.Stdout, `dmxplay - DOS-era game audio playback demo

Usage:
  dmxplay [options] <file>

Arguments:
  file    path to a MIDI, MUS, or DMX PCM asset

Options:
  -f, --format <kind>        midi, mus, or pcm (default: guess from extension)
  --soundfont <path>         SoundFont (.sf2) path, required for midi/mus
  --loop                     enable looping playback
  --volume <0-100>           playback volume (default 100)
  --device <index>           output device index (default 0)
  -t, --timeout <seconds>    stop playback after N seconds (default unlimited)
  -l, --log-level <level>    debug, info, warn, error (default info)
  -h, --help                 show this help

Environment Variables:
  TIMEOUT=<seconds>
  LOG_LEVEL=<level>

Examples:
  dmxplay song.mid --soundfont gm.sf2
  dmxplay d_runnin.mus --soundfont gm.sf2 --loop
  dmxplay dsshotgn.lmp --format pcm --volume 75
`)
}
