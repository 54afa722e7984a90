package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/zsiec/samplesource/internal/media"
	"github.com/zsiec/samplesource/source"
)

const envPrefix = "SAMPLESOURCE"

type config struct {
	Debug         bool
	LogFile       string
	JSON          bool
	Count         int
	Kinds         []source.Kind
	SeekUs        int64
	Timeout       time.Duration
	ProbeSize     int64
	ProbeTimeout  time.Duration
	ReadTimeout   time.Duration
	DialTimeout   time.Duration
	SRTLatency    time.Duration
	RTSPTransport string
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("samplesource", pflag.ContinueOnError)
	fs.String("config", "", "config file (yaml, json or toml)")
	fs.Bool("debug", false, "log at debug level")
	fs.String("log-file", "", "also write logs to this file, rotated")
	fs.Bool("json", false, "print results as JSON")
	fs.Int("count", 100, "drain: stop after this many samples, 0 for all")
	fs.StringSlice("kinds", []string{"video"}, "drain: media kinds to select")
	fs.Int64("seek-us", -1, "drain: seek here before reading")
	fs.Duration("timeout", 0, "abort after this long, 0 for none")
	fs.Int64("probe-size", 0, "MPEG-TS probe budget in bytes")
	fs.Duration("probe-timeout", 0, "RTSP parameter set wait")
	fs.Duration("read-timeout", 0, "transport read timeout")
	fs.Duration("dial-timeout", 0, "SRT connect timeout")
	fs.Duration("srt-latency", 0, "SRT receiver latency")
	fs.String("rtsp-transport", "", "udp, tcp or multicast")
	return fs
}

// loadConfig parses args and layers flags over SAMPLESOURCE_* variables
// over the optional config file. It returns the positional arguments.
func loadConfig(args []string) (config, []string, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return config{}, nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return config{}, nil, fmt.Errorf("bind flags: %w", err)
	}
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return config{}, nil, fmt.Errorf("read config: %w", err)
		}
	}

	kinds, err := parseKinds(v.GetStringSlice("kinds"))
	if err != nil {
		return config{}, nil, err
	}
	return config{
		Debug:         v.GetBool("debug"),
		LogFile:       v.GetString("log-file"),
		JSON:          v.GetBool("json"),
		Count:         v.GetInt("count"),
		Kinds:         kinds,
		SeekUs:        v.GetInt64("seek-us"),
		Timeout:       v.GetDuration("timeout"),
		ProbeSize:     v.GetInt64("probe-size"),
		ProbeTimeout:  v.GetDuration("probe-timeout"),
		ReadTimeout:   v.GetDuration("read-timeout"),
		DialTimeout:   v.GetDuration("dial-timeout"),
		SRTLatency:    v.GetDuration("srt-latency"),
		RTSPTransport: v.GetString("rtsp-transport"),
	}, fs.Args(), nil
}

// parseKinds accepts kind names as separate values or comma lists, since
// environment variables arrive as one string.
func parseKinds(values []string) ([]source.Kind, error) {
	var kinds []source.Kind
	for _, v := range values {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			k, ok := media.ParseKind(strings.ToLower(name))
			if !ok {
				return nil, fmt.Errorf("unknown media kind %q", name)
			}
			kinds = append(kinds, k)
		}
	}
	return kinds, nil
}

func (c config) sourceOptions() []source.Option {
	return []source.Option{
		source.WithProbeSize(c.ProbeSize),
		source.WithProbeTimeout(c.ProbeTimeout),
		source.WithReadTimeout(c.ReadTimeout),
		source.WithDialTimeout(c.DialTimeout),
		source.WithSRTLatency(c.SRTLatency),
		source.WithRTSPTransport(c.RTSPTransport),
	}
}
