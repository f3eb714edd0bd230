package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"voicegate/internal/pkg/voicegate/model"
)

const (
	PolicyStrict  = "strict"
	PolicyDegrade = "degrade"
)

// ErrHelp is returned by Load when -h/--help was given; usage has already
// been printed.
var ErrHelp = errors.New("help requested")

type Config struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	EnableASR       bool          `mapstructure:"enable_asr"`
	EnableTTS       bool          `mapstructure:"enable_tts"`
	ASRModelDir     string        `mapstructure:"asr_model_dir"`
	TTSModelDir     string        `mapstructure:"tts_model_dir"`
	ASRBackend      string        `mapstructure:"asr_backend"`
	TTSBackend      string        `mapstructure:"tts_backend"`
	Device          string        `mapstructure:"device"`
	Compile         bool          `mapstructure:"compile"`
	CompilePolicy   string        `mapstructure:"compile_policy"`
	ASRPoolSize     int           `mapstructure:"asr_pool_size"`
	TTSPoolSize     int           `mapstructure:"tts_pool_size"`
	GuardTimeout    time.Duration `mapstructure:"guard_timeout"`
	MaxQueue        int           `mapstructure:"max_queue"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	MaxTextLength   int           `mapstructure:"max_text_length"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	DefaultVoice    string        `mapstructure:"default_voice"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFile         string        `mapstructure:"log_file"`
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// flags pairs every config key with its command-line name.
var flags = map[string]string{
	"host":             "host",
	"port":             "port",
	"enable_asr":       "enable-asr",
	"enable_tts":       "enable-tts",
	"asr_model_dir":    "asr-model-dir",
	"tts_model_dir":    "tts-model-dir",
	"asr_backend":      "asr-backend",
	"tts_backend":      "tts-backend",
	"device":           "device",
	"compile":          "compile",
	"compile_policy":   "compile-policy",
	"asr_pool_size":    "asr-pool-size",
	"tts_pool_size":    "tts-pool-size",
	"guard_timeout":    "guard-timeout",
	"max_queue":        "max-queue",
	"max_body_bytes":   "max-body-bytes",
	"max_text_length":  "max-text-length",
	"shutdown_timeout": "shutdown-timeout",
	"default_voice":    "default-voice",
	"log_level":        "log-level",
	"log_file":         "log-file",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 5000)
	v.SetDefault("enable_asr", false)
	v.SetDefault("enable_tts", false)
	v.SetDefault("asr_model_dir", "")
	v.SetDefault("tts_model_dir", "")
	v.SetDefault("asr_backend", "ctc")
	v.SetDefault("tts_backend", "kokoro")
	v.SetDefault("device", "cpu")
	v.SetDefault("compile", false)
	v.SetDefault("compile_policy", PolicyStrict)
	v.SetDefault("asr_pool_size", 2)
	v.SetDefault("tts_pool_size", 1)
	v.SetDefault("guard_timeout", 10*time.Second)
	v.SetDefault("max_queue", 16)
	v.SetDefault("max_body_bytes", 25<<20)
	v.SetDefault("max_text_length", 2000)
	v.SetDefault("shutdown_timeout", 30*time.Second)
	v.SetDefault("default_voice", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("voicegate", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "Path to config file")
	fs.String("host", "0.0.0.0", "Listen host")
	fs.IntP("port", "p", 5000, "Listen port")
	fs.Bool("enable-asr", false, "Enable speech recognition (POST /asr)")
	fs.Bool("enable-tts", false, "Enable speech synthesis (POST /tts)")
	fs.String("asr-model-dir", "", "ASR model directory (env VOICEGATE_ASR_MODEL_DIR)")
	fs.String("tts-model-dir", "", "TTS model directory (env VOICEGATE_TTS_MODEL_DIR)")
	fs.String("asr-backend", "ctc", "ASR backend")
	fs.String("tts-backend", "kokoro", "TTS backend")
	fs.String("device", "cpu", "Inference device (cpu, cuda, cuda:N)")
	fs.Bool("compile", false, "Warm up models before serving")
	fs.String("compile-policy", PolicyStrict, "On warm-up failure: strict aborts startup, degrade serves uncompiled")
	fs.Int("asr-pool-size", 2, "Concurrent inferences for a reentrant ASR engine")
	fs.Int("tts-pool-size", 1, "Concurrent inferences for a reentrant TTS engine")
	fs.Duration("guard-timeout", 10*time.Second, "Longest wait for a free engine slot before answering busy")
	fs.Int("max-queue", 16, "Requests allowed to wait per capability")
	fs.Int64("max-body-bytes", 25<<20, "Request body limit in bytes")
	fs.Int("max-text-length", 2000, "TTS text limit in characters")
	fs.Duration("shutdown-timeout", 30*time.Second, "Grace period for in-flight requests on shutdown")
	fs.String("default-voice", "", "TTS voice used when a request names none")
	fs.StringP("log-level", "l", "info", "Log level (debug, info, warn, error)")
	fs.String("log-file", "", "Log file path")
	fs.BoolP("help", "h", false, "Show help message")
	return fs
}

// Load builds the configuration from args, the optional config file and
// VOICEGATE_* environment variables, in that order of precedence.
func Load(args []string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	if help, _ := fs.GetBool("help"); help {
		fmt.Fprintf(os.Stderr, "Usage: voicegate [options]\n\nOptions:\n")
		fs.PrintDefaults()
		return nil, ErrHelp
	}

	for key, name := range flags {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, err
		}
	}

	if configFile, _ := fs.GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("voicegate.cfg")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "voicegate"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix("VOICEGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadAndParse loads from the process arguments and exits after printing
// usage for -h.
func LoadAndParse() (*Config, error) {
	cfg, err := Load(os.Args[1:])
	if errors.Is(err, ErrHelp) {
		os.Exit(0)
	}
	return cfg, err
}

func (c *Config) Validate() error {
	if !c.EnableASR && !c.EnableTTS {
		return fmt.Errorf("nothing to serve: enable at least one of --enable-asr, --enable-tts")
	}
	if c.EnableASR && c.ASRModelDir == "" {
		return fmt.Errorf("--enable-asr needs --asr-model-dir or VOICEGATE_ASR_MODEL_DIR")
	}
	if c.EnableTTS && c.TTSModelDir == "" {
		return fmt.Errorf("--enable-tts needs --tts-model-dir or VOICEGATE_TTS_MODEL_DIR")
	}
	if _, err := model.ParseDevice(c.Device); err != nil {
		return err
	}

	c.CompilePolicy = strings.ToLower(strings.TrimSpace(c.CompilePolicy))
	if c.CompilePolicy != PolicyStrict && c.CompilePolicy != PolicyDegrade {
		return fmt.Errorf("compile policy must be %s or %s, got %q", PolicyStrict, PolicyDegrade, c.CompilePolicy)
	}

	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	switch {
	case c.ASRPoolSize < 1, c.TTSPoolSize < 1:
		return fmt.Errorf("pool sizes must be at least 1")
	case c.GuardTimeout <= 0:
		return fmt.Errorf("guard timeout must be positive")
	case c.MaxQueue < 0:
		return fmt.Errorf("max queue cannot be negative")
	case c.MaxBodyBytes <= 0:
		return fmt.Errorf("max body bytes must be positive")
	case c.MaxTextLength <= 0:
		return fmt.Errorf("max text length must be positive")
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}
