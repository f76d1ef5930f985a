package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Settings configure one bridge activation. The zero value is not usable;
// start from Defaults.
type Settings struct {
	Log       LogSettings       `toml:"log"`
	Engine    EngineSettings    `toml:"engine"`
	Session   SessionSettings   `toml:"session"`
	Remote    RemoteSettings    `toml:"remote"`
	Providers ProviderSettings  `toml:"providers"`
	Telemetry TelemetrySettings `toml:"telemetry"`
}

type LogSettings struct {
	Level string `toml:"level"`
}

// EngineSettings select and start the analysis engine.
type EngineSettings struct {
	// Kind is "process" for an engine executable or "outline" for the
	// in-process syntax engine.
	Kind    string   `toml:"kind"`
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
	Dir     string   `toml:"dir"`
	// Framing is "message" or "stream".
	Framing string `toml:"framing"`
	Mailbox int    `toml:"mailbox"`
}

type SessionSettings struct {
	LanguageID       string   `toml:"language_id"`
	RequestTimeout   Duration `toml:"request_timeout"`
	HandshakeTimeout Duration `toml:"handshake_timeout"`
	MaxOpenDocuments int      `toml:"max_open_documents"`
	Trace            bool     `toml:"trace"`
}

// RemoteSettings point the content resolver at a GraphQL host.
type RemoteSettings struct {
	Endpoint  string   `toml:"endpoint"`
	Timeout   Duration `toml:"timeout"`
	RateLimit float64  `toml:"rate_limit"`
	Burst     int      `toml:"burst"`
}

type ProviderSettings struct {
	HoverPattern      string `toml:"hover_pattern"`
	DefinitionPattern string `toml:"definition_pattern"`
	References        bool   `toml:"references"`
}

type TelemetrySettings struct {
	ServiceName    string `toml:"service_name"`
	TraceExporter  string `toml:"trace_exporter"`
	MetricExporter string `toml:"metric_exporter"`
	OTLPEndpoint   string `toml:"otlp_endpoint"`
}

const (
	EngineProcess = "process"
	EngineOutline = "outline"
)

// Defaults returns the settings used when no file is present.
func Defaults() Settings {
	return Settings{
		Log: LogSettings{Level: "info"},
		Engine: EngineSettings{
			Kind:    EngineProcess,
			Command: "sorbet",
			Args:    []string{"--lsp", "--disable-watchman", "--dir", "."},
			Framing: "message",
			Mailbox: 1,
		},
		Session: SessionSettings{
			LanguageID:       "ruby",
			RequestTimeout:   Duration(10 * time.Second),
			HandshakeTimeout: Duration(30 * time.Second),
		},
		Remote: RemoteSettings{
			Endpoint:  "https://sourcegraph.com",
			Timeout:   Duration(15 * time.Second),
			RateLimit: 10,
			Burst:     5,
		},
		Providers: ProviderSettings{
			HoverPattern:      "*.rb",
			DefinitionPattern: "*",
			References:        true,
		},
		Telemetry: TelemetrySettings{
			ServiceName:    "langruby",
			TraceExporter:  "none",
			MetricExporter: "none",
			OTLPEndpoint:   "localhost:4317",
		},
	}
}

// Load reads settings from a TOML file over Defaults. A missing file yields
// the defaults.
func Load(path string) (*Settings, error) {
	d := Defaults()
	return LoadTOML(path, &d)
}

// Validate implements Validatable.
func (s *Settings) Validate() error {
	var errs []error
	if _, err := ParseLevel(s.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch s.Engine.Kind {
	case EngineProcess:
		if s.Engine.Command == "" {
			errs = append(errs, errors.New("engine.command is required for the process engine"))
		}
	case EngineOutline:
	default:
		errs = append(errs, fmt.Errorf("engine.kind %q: want %q or %q", s.Engine.Kind, EngineProcess, EngineOutline))
	}
	switch s.Engine.Framing {
	case "", "message", "stream":
	default:
		errs = append(errs, fmt.Errorf("engine.framing %q: want message or stream", s.Engine.Framing))
	}
	if s.Engine.Mailbox < 0 {
		errs = append(errs, errors.New("engine.mailbox must not be negative"))
	}
	if s.Session.RequestTimeout < 0 || s.Session.HandshakeTimeout < 0 {
		errs = append(errs, errors.New("session timeouts must not be negative"))
	}
	if s.Session.MaxOpenDocuments < 0 {
		errs = append(errs, errors.New("session.max_open_documents must not be negative"))
	}
	if s.Remote.Endpoint == "" {
		errs = append(errs, errors.New("remote.endpoint is required"))
	}
	if s.Remote.RateLimit < 0 || s.Remote.Burst < 0 {
		errs = append(errs, errors.New("remote rate limit must not be negative"))
	}
	return errors.Join(errs...)
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return l, nil
}

// Duration is a time.Duration written as a Go duration string ("10s").
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }
