package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. HIVE_SCRATCH_DIR.
const EnvPrefix = "HIVE"

type Server struct {
	Port        int    `mapstructure:"port"`
	CORSOrigin  string `mapstructure:"cors_origin"`
	MaxUploadMB int64  `mapstructure:"max_upload_mb"`
	Mode        string `mapstructure:"mode"` // gin mode: debug, release, test
}

type Scratch struct {
	Dir string `mapstructure:"dir"`
}

type ONNX struct {
	LibraryPath string `mapstructure:"library_path"`
}

type Audio struct {
	ModelPath    string `mapstructure:"model_path"`
	MetadataPath string `mapstructure:"metadata_path"`
	FFmpegPath   string `mapstructure:"ffmpeg_path"`
}

type Image struct {
	ModelPath    string `mapstructure:"model_path"`
	MetadataPath string `mapstructure:"metadata_path"`
	ClassMapPath string `mapstructure:"class_map_path"`
	// Interpolation is the resize filter: nearest, bilinear, bicubic or lanczos.
	Interpolation string `mapstructure:"interpolation"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config holds all runtime configuration.
type Config struct {
	Server  Server  `mapstructure:"server"`
	Scratch Scratch `mapstructure:"scratch"`
	ONNX    ONNX    `mapstructure:"onnx"`
	Audio   Audio   `mapstructure:"audio"`
	Image   Image   `mapstructure:"image"`
	Log     Log     `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origin", "*")
	v.SetDefault("server.max_upload_mb", 32)
	v.SetDefault("server.mode", "release")

	v.SetDefault("scratch.dir", "uploads")

	v.SetDefault("onnx.library_path", "")

	v.SetDefault("audio.model_path", "models/bee_model.onnx")
	v.SetDefault("audio.metadata_path", "models/bee_model_metadata.json")
	v.SetDefault("audio.ffmpeg_path", "ffmpeg")

	v.SetDefault("image.model_path", "models/image_model.onnx")
	v.SetDefault("image.metadata_path", "models/image_model_metadata.json")
	v.SetDefault("image.class_map_path", "models/class_indices.json")
	v.SetDefault("image.interpolation", "nearest")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from defaults, an optional YAML file and the
// environment, in increasing order of precedence. An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// PORT wins over everything, like most PaaS runtimes expect.
	if p := os.Getenv("PORT"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", p, err)
		}
		cfg.Server.Port = n
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first setting that would prevent the service from starting.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	case c.Server.MaxUploadMB <= 0:
		return fmt.Errorf("server.max_upload_mb must be positive, got %d", c.Server.MaxUploadMB)
	case c.Server.Mode != "debug" && c.Server.Mode != "release" && c.Server.Mode != "test":
		return fmt.Errorf("server.mode must be debug, release or test, got %q", c.Server.Mode)
	case c.Scratch.Dir == "":
		return errors.New("scratch.dir is required")
	case c.Audio.ModelPath == "" || c.Audio.MetadataPath == "":
		return errors.New("audio.model_path and audio.metadata_path are required")
	case c.Image.ModelPath == "" || c.Image.MetadataPath == "":
		return errors.New("image.model_path and image.metadata_path are required")
	case c.Image.ClassMapPath == "":
		return errors.New("image.class_map_path is required")
	case !validInterpolation(c.Image.Interpolation):
		return fmt.Errorf("image.interpolation must be nearest, bilinear, bicubic or lanczos, got %q", c.Image.Interpolation)
	}
	return nil
}

func validInterpolation(name string) bool {
	switch name {
	case "nearest", "bilinear", "bicubic", "lanczos":
		return true
	}
	return false
}

// MaxUploadBytes is the request body cap derived from MaxUploadMB.
func (s Server) MaxUploadBytes() int64 {
	return s.MaxUploadMB << 20
}

// Addr is the listen address for the HTTP server.
func (s Server) Addr() string {
	return ":" + strconv.Itoa(s.Port)
}
