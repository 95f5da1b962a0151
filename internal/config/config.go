// Package config provides configuration for go-adas components.
// Configuration is loaded from an optional YAML file with environment
// variable overrides; every field has a working default so the stack
// runs with no file at all.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML files can use duration strings
// ("100ms", "2s") rather than raw nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	td, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(td)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a standard time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration tree for the ADAS stack.
type Config struct {
	LogLevel  string           `yaml:"log_level"`
	TopicBase string           `yaml:"topic_base"` // prefix for all bus topics
	Lane      LaneConfig       `yaml:"lane"`
	Obstacle  ObstacleConfig   `yaml:"obstacle"`
	Ped       PedestrianConfig `yaml:"pedestrian"`
	Sup       SupervisorConfig `yaml:"supervisor"`
	Dashboard DashboardConfig  `yaml:"dashboard"`
	Bridge    BridgeConfig     `yaml:"bridge"`
}

// LaneConfig holds lane departure detection parameters.
// Distances are in image pixels at the measurement row.
type LaneConfig struct {
	FrameWidth       int      `yaml:"frame_width"`
	FrameHeight      int      `yaml:"frame_height"`
	WarningDistance  float64  `yaml:"warning_distance"`  // boundary proximity that raises a warning
	HysteresisMargin float64  `yaml:"hysteresis_margin"` // clear once distance exceeds warning_distance + margin
	EdgeThreshold    uint8    `yaml:"edge_threshold"`    // luminance gradient threshold
	TrackingHistory  int      `yaml:"tracking_history"`  // frames of line history kept
	MaxMissedFrames  int      `yaml:"max_missed_frames"` // misses before tracking reset
	TickRate         Duration `yaml:"tick_rate"`
}

// ObstacleConfig holds the graduated braking policy parameters.
// Distances are in meters, intensities unitless in [0, 1].
type ObstacleConfig struct {
	CriticalDistance   float64  `yaml:"critical_distance"`
	WarningDistance    float64  `yaml:"warning_distance"`
	SafeDistance       float64  `yaml:"safe_distance"`
	WarningIntensity   float64  `yaml:"warning_intensity"`
	EmergencyIntensity float64  `yaml:"emergency_intensity"`
	TickRate           Duration `yaml:"tick_rate"`
	FreshnessWindow    Duration `yaml:"freshness_window"` // reading age treated as current
	MaxMalformed       int      `yaml:"max_malformed"`    // consecutive bad readings before fatal
}

// PedestrianConfig holds pedestrian detection debounce parameters.
type PedestrianConfig struct {
	FrameWidth    int      `yaml:"frame_width"`
	RaiseFrames   int      `yaml:"raise_frames"` // consecutive detections to raise
	ClearFrames   int      `yaml:"clear_frames"` // consecutive absences to clear
	MinBlobPixels int      `yaml:"min_blob_pixels"`
	TickRate      Duration `yaml:"tick_rate"`
}

// SupervisorConfig holds worker lifecycle timing.
type SupervisorConfig struct {
	HeartbeatPeriod Duration `yaml:"heartbeat_period"`
	HealthTimeout   Duration `yaml:"health_timeout"`  // missed heartbeats -> Degraded
	StartTimeout    Duration `yaml:"start_timeout"`   // Starting -> Restarting
	DegradedGrace   Duration `yaml:"degraded_grace"`  // Degraded -> Restarting
	StopGrace       Duration `yaml:"stop_grace"`      // graceful shutdown window
	RestartBackoff  Duration `yaml:"restart_backoff"` // initial backoff, doubles per attempt
	MaxBackoff      Duration `yaml:"max_backoff"`
	MaxRestarts     int      `yaml:"max_restarts"` // budget before Disabled
	SweepPeriod     Duration `yaml:"sweep_period"` // periodic wake for timeout checks
	// Conditions gating the desired worker set.
	PedestrianMaxSpeed float64 `yaml:"pedestrian_max_speed"` // km/h; above this pedestrian detection is off
}

// DashboardConfig holds the HTTP surface settings.
type DashboardConfig struct {
	Port string `yaml:"port"`
}

// BridgeConfig holds the external simulator feed settings.
type BridgeConfig struct {
	URL              string   `yaml:"url"` // websocket endpoint; empty disables the bridge
	ReconnectBackoff Duration `yaml:"reconnect_backoff"`
	MaxBackoff       Duration `yaml:"max_backoff"`
}

// Default returns a Config with working defaults for every field.
// Thresholds match the recognized braking policy: critical 5m, warning 15m,
// safe 25m, warning intensity 0.3, emergency intensity 0.8.
func Default() Config {
	return Config{
		LogLevel:  "info",
		TopicBase: "vehicle",
		Lane: LaneConfig{
			FrameWidth:       640,
			FrameHeight:      360,
			WarningDistance:  160,
			HysteresisMargin: 20,
			EdgeThreshold:    48,
			TrackingHistory:  5,
			MaxMissedFrames:  5,
			TickRate:         Duration(50 * time.Millisecond),
		},
		Obstacle: ObstacleConfig{
			CriticalDistance:   5.0,
			WarningDistance:    15.0,
			SafeDistance:       25.0,
			WarningIntensity:   0.3,
			EmergencyIntensity: 0.8,
			TickRate:           Duration(100 * time.Millisecond),
			FreshnessWindow:    Duration(300 * time.Millisecond),
			MaxMalformed:       3,
		},
		Ped: PedestrianConfig{
			FrameWidth:    640,
			RaiseFrames:   3,
			ClearFrames:   5,
			MinBlobPixels: 40,
			TickRate:      Duration(100 * time.Millisecond),
		},
		Sup: SupervisorConfig{
			HeartbeatPeriod:    Duration(500 * time.Millisecond),
			HealthTimeout:      Duration(1500 * time.Millisecond),
			StartTimeout:       Duration(5 * time.Second),
			DegradedGrace:      Duration(2 * time.Second),
			StopGrace:          Duration(2 * time.Second),
			RestartBackoff:     Duration(time.Second),
			MaxBackoff:         Duration(30 * time.Second),
			MaxRestarts:        5,
			SweepPeriod:        Duration(time.Second),
			PedestrianMaxSpeed: 60,
		},
		Dashboard: DashboardConfig{
			Port: "5000",
		},
		Bridge: BridgeConfig{
			ReconnectBackoff: Duration(time.Second),
			MaxBackoff:       Duration(30 * time.Second),
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path skips the file entirely.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides selected fields from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("ADAS_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("ADAS_DASHBOARD_PORT"); v != "" {
		c.Dashboard.Port = v
	}
	if v := os.Getenv("ADAS_BRIDGE_URL"); v != "" {
		c.Bridge.URL = v
	}
	if v := os.Getenv("ADAS_TOPIC_BASE"); v != "" {
		c.TopicBase = v
	}
}

// Validate rejects configurations that would break control-loop invariants.
func (c *Config) Validate() error {
	o := c.Obstacle
	if !(o.CriticalDistance < o.WarningDistance && o.WarningDistance < o.SafeDistance) {
		return fmt.Errorf("config: obstacle distances must satisfy critical < warning < safe (got %.1f/%.1f/%.1f)",
			o.CriticalDistance, o.WarningDistance, o.SafeDistance)
	}
	if o.WarningIntensity < 0 || o.EmergencyIntensity > 1 || o.WarningIntensity >= o.EmergencyIntensity {
		return fmt.Errorf("config: obstacle intensities must satisfy 0 <= warning < emergency <= 1 (got %.2f/%.2f)",
			o.WarningIntensity, o.EmergencyIntensity)
	}
	if c.Lane.HysteresisMargin <= 0 || c.Lane.HysteresisMargin >= c.Lane.WarningDistance {
		return fmt.Errorf("config: lane hysteresis margin must be in (0, warning_distance)")
	}
	if c.Ped.RaiseFrames < 2 || c.Ped.ClearFrames < 2 {
		return fmt.Errorf("config: pedestrian debounce frames must be >= 2")
	}
	if c.Sup.MaxRestarts < 1 {
		return fmt.Errorf("config: supervisor max_restarts must be >= 1")
	}
	return nil
}
