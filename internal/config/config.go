package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the agent configuration, loaded from YAML with environment
// overrides. Booleans that default to on are pointers so an explicit
// `false` in the file survives the defaulting pass.
type Config struct {
	Env         string `yaml:"env" env:"AGENT_ENV" env-default:"local"`
	StoragePath string `yaml:"storage_path" env:"AGENT_STORAGE_PATH" env-default:"mileage-agent.db"`

	Log struct {
		Level  string `yaml:"level" env:"AGENT_LOG_LEVEL" env-default:"info"`
		Format string `yaml:"format" env:"AGENT_LOG_FORMAT" env-default:"console"`
	} `yaml:"log"`

	Device struct {
		ID   string `yaml:"id" env:"AGENT_DEVICE_ID"`
		Name string `yaml:"name" env:"AGENT_DEVICE_NAME"`
	} `yaml:"device"`

	Backend struct {
		BaseURL string `yaml:"base_url" env:"AGENT_BACKEND_URL" env-default:"http://localhost:8080"`
		APIKey  string `yaml:"api_key" env:"AGENT_BACKEND_API_KEY"`
		Timeout int    `yaml:"timeout" env:"AGENT_BACKEND_TIMEOUT" env-default:"30"` // seconds
	} `yaml:"backend"`

	Detection struct {
		MovementSpeedThreshold   float64 `yaml:"movement_speed_threshold" env:"AGENT_MOVEMENT_SPEED_THRESHOLD" env-default:"3"`     // m/s
		StationarySpeedThreshold float64 `yaml:"stationary_speed_threshold" env:"AGENT_STATIONARY_SPEED_THRESHOLD" env-default:"1"` // m/s
		MovementConfirmation     int     `yaml:"movement_confirmation" env:"AGENT_MOVEMENT_CONFIRMATION" env-default:"60"`          // seconds
		StationaryTimeout        int     `yaml:"stationary_timeout" env:"AGENT_STATIONARY_TIMEOUT" env-default:"180"`               // seconds
		AutoDetect               *bool   `yaml:"auto_detect" env:"AGENT_AUTO_DETECT"`
	} `yaml:"detection"`

	Validity struct {
		MinDuration int     `yaml:"min_duration" env:"AGENT_MIN_TRIP_DURATION" env-default:"60"`  // seconds
		MinDistance float64 `yaml:"min_distance" env:"AGENT_MIN_TRIP_DISTANCE" env-default:"160"` // meters
		MinSamples  int     `yaml:"min_samples" env:"AGENT_MIN_TRIP_SAMPLES" env-default:"2"`
	} `yaml:"validity"`

	Tracking struct {
		SaveThrottle   int `yaml:"save_throttle" env:"AGENT_SAVE_THROTTLE" env-default:"30"`     // seconds
		UploadInterval int `yaml:"upload_interval" env:"AGENT_UPLOAD_INTERVAL" env-default:"60"` // seconds
		UploadBatch    int `yaml:"upload_batch" env:"AGENT_UPLOAD_BATCH" env-default:"10"`
	} `yaml:"tracking"`

	Server struct {
		Enabled *bool `yaml:"enabled" env:"AGENT_SERVER_ENABLED"`
		Port    int   `yaml:"port" env:"AGENT_SERVER_PORT" env-default:"8733"`
	} `yaml:"server"`

	Replay struct {
		Path    string  `yaml:"path" env:"AGENT_REPLAY_PATH"`
		Speedup float64 `yaml:"speedup" env:"AGENT_REPLAY_SPEEDUP" env-default:"1"`
	} `yaml:"replay"`
}

// AutoDetectEnabled reports whether automatic trip detection is on.
// Unset means on.
func (c *Config) AutoDetectEnabled() bool {
	if c.Detection.AutoDetect == nil {
		return true
	}
	return *c.Detection.AutoDetect
}

// ServerEnabled reports whether the local status server is on. Unset
// means on.
func (c *Config) ServerEnabled() bool {
	if c.Server.Enabled == nil {
		return true
	}
	return *c.Server.Enabled
}

// LoadConfig reads configuration from the given YAML file, falling back
// to environment variables and defaults when the file does not exist.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		return &cfg, nil
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from environment: %w", err)
	}
	return &cfg, nil
}
