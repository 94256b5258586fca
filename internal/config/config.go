// Package config loads the client configuration from YAML, TOML or JSON.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/entitysync/internal/core/animsync"
	"github.com/zeusync/entitysync/internal/core/observability/log"
	"github.com/zeusync/entitysync/internal/core/ownership"
	"github.com/zeusync/entitysync/internal/core/prediction"
	"github.com/zeusync/entitysync/internal/core/rpc"
	"github.com/zeusync/entitysync/internal/core/session"
	"github.com/zeusync/entitysync/internal/core/transport"
)

type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

var ErrUnknownFormat = errors.New("unknown config format")

type Config struct {
	Log        log.Config        `yaml:"log" toml:"log" json:"log"`
	Session    Session           `yaml:"session" toml:"session" json:"session"`
	Transport  Transport         `yaml:"transport" toml:"transport" json:"transport"`
	RPC        rpc.Config        `yaml:"rpc" toml:"rpc" json:"rpc"`
	Sync       Sync              `yaml:"sync" toml:"sync" json:"sync"`
	Prediction prediction.Config `yaml:"prediction" toml:"prediction" json:"prediction"`
	// Entities is keyed by entity kind: player, npc, bullet, follow_player.
	Entities map[string]Entity `yaml:"entities" toml:"entities" json:"entities"`
}

type Session struct {
	Transport      string   `yaml:"transport" toml:"transport" json:"transport"`
	Endpoint       string   `yaml:"endpoint" toml:"endpoint" json:"endpoint"`
	ServersURL     string   `yaml:"servers_url" toml:"servers_url" json:"servers_url"`
	Version        string   `yaml:"version" toml:"version" json:"version"`
	Token          string   `yaml:"token" toml:"token" json:"token"`
	PlayerClaim    string   `yaml:"player_claim" toml:"player_claim" json:"player_claim"`
	ConnectTimeout Duration `yaml:"connect_timeout" toml:"connect_timeout" json:"connect_timeout"`
}

func (s Session) Machine() session.Config {
	return session.Config{
		Transport:      s.Transport,
		Endpoint:       s.Endpoint,
		ServersURL:     s.ServersURL,
		Version:        s.Version,
		Token:          s.Token,
		PlayerClaim:    s.PlayerClaim,
		ConnectTimeout: s.ConnectTimeout.Std(),
	}
}

type Transport struct {
	MaxFrameSize int      `yaml:"max_frame_size" toml:"max_frame_size" json:"max_frame_size"`
	WriteTimeout Duration `yaml:"write_timeout" toml:"write_timeout" json:"write_timeout"`
	Insecure     bool     `yaml:"insecure" toml:"insecure" json:"insecure"`
}

func (t Transport) Options() transport.Options {
	return transport.Options{
		MaxFrameSize: t.MaxFrameSize,
		WriteTimeout: t.WriteTimeout.Std(),
		Insecure:     t.Insecure,
	}
}

type Sync struct {
	// UpdatesPerSecond bounds outgoing updates; zero or less sends every frame.
	UpdatesPerSecond float64 `yaml:"updates_per_second" toml:"updates_per_second" json:"updates_per_second"`
	// DirtyPolicy is "always" or "diff".
	DirtyPolicy     string  `yaml:"dirty_policy" toml:"dirty_policy" json:"dirty_policy"`
	SyncLayerStates bool    `yaml:"sync_layer_states" toml:"sync_layer_states" json:"sync_layer_states"`
	CrossFade       float64 `yaml:"cross_fade" toml:"cross_fade" json:"cross_fade"`
}

func (s Sync) Policy() (animsync.DirtyPolicy, error) {
	return animsync.ParsePolicy(s.DirtyPolicy)
}

type Param struct {
	Name string `yaml:"name" toml:"name" json:"name"`
	// Type is bool, int, float or trigger.
	Type string `yaml:"type" toml:"type" json:"type"`
}

// Entity describes the animation schema of one entity kind.
type Entity struct {
	Params         []Param  `yaml:"params" toml:"params" json:"params"`
	Layers         int      `yaml:"layers" toml:"layers" json:"layers"`
	Excluded       []string `yaml:"excluded" toml:"excluded" json:"excluded"`
	ExcludedHashes []uint32 `yaml:"excluded_hashes" toml:"excluded_hashes" json:"excluded_hashes"`
}

// Schema builds the fixed-capacity parameter schema for the kind.
func (e Entity) Schema() (*animsync.Schema, error) {
	specs := make([]animsync.ParamSpec, 0, len(e.Params))
	for _, p := range e.Params {
		typ, err := animsync.ParseParamType(p.Type)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", p.Name, err)
		}
		specs = append(specs, animsync.ParamSpec{Name: p.Name, Type: typ})
	}
	return animsync.NewSchema(specs, e.Layers)
}

func Default() *Config {
	sess := session.DefaultConfig()
	opts := transport.DefaultOptions()
	return &Config{
		Log: log.Config{Level: "info", Encoding: "json"},
		Session: Session{
			Transport:      sess.Transport,
			Endpoint:       sess.Endpoint,
			PlayerClaim:    sess.PlayerClaim,
			ConnectTimeout: Duration(sess.ConnectTimeout),
		},
		Transport: Transport{
			MaxFrameSize: opts.MaxFrameSize,
			WriteTimeout: Duration(opts.WriteTimeout),
		},
		RPC: rpc.DefaultConfig(),
		Sync: Sync{
			UpdatesPerSecond: 20,
			DirtyPolicy:      animsync.PolicyAlwaysSend.String(),
			SyncLayerStates:  true,
			CrossFade:        0.1,
		},
		Prediction: prediction.DefaultConfig(),
		Entities:   map[string]Entity{},
	}
}

// Load reads path, picking the decoder from its extension. Fields missing
// from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, path)
}

// Parse decodes data over the defaults and validates the result.
func Parse(data []byte, format Format) (*Config, error) {
	cfg := Default()
	var err error
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(cfg)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(cfg)
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s config: %w", format, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if _, err := transport.ParseKind(c.Session.Transport); err != nil {
		errs = append(errs, fmt.Errorf("session.transport: %w", err))
	}
	if c.Session.Endpoint == "" && c.Session.ServersURL == "" {
		errs = append(errs, errors.New("session: endpoint or servers_url is required"))
	}
	if c.Session.ConnectTimeout < 0 {
		errs = append(errs, errors.New("session.connect_timeout must not be negative"))
	}
	if _, err := c.Sync.Policy(); err != nil {
		errs = append(errs, fmt.Errorf("sync.dirty_policy: %w", err))
	}
	if c.Sync.CrossFade < 0 {
		errs = append(errs, errors.New("sync.cross_fade must not be negative"))
	}
	if c.Prediction.SmoothTime <= 0 {
		errs = append(errs, errors.New("prediction.smooth_time must be positive"))
	}
	if c.Prediction.DefaultInterval <= 0 {
		errs = append(errs, errors.New("prediction.default_interval must be positive"))
	}
	for name, ent := range c.Entities {
		if _, err := ownership.ParseKind(name); err != nil {
			errs = append(errs, fmt.Errorf("entities.%s: %w", name, err))
			continue
		}
		if _, err := ent.Schema(); err != nil {
			errs = append(errs, fmt.Errorf("entities.%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Entity returns the schema config for kind; kinds without one get an empty
// schema.
func (c *Config) Entity(kind ownership.Kind) Entity {
	for name, ent := range c.Entities {
		if k, err := ownership.ParseKind(name); err == nil && k == kind {
			return ent
		}
	}
	return Entity{}
}
