package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DefaultAPIKeyPath = "/run/secrets/api_keys/openrouter"
	APIKeyPathEnvVar  = "OPENROUTER_API_KEY_FILE"
	EnvPathEnvVar     = "SCREEN_CAPTURE_STAGE"

	DefaultResultHotkey     = "Ctrl+Alt+R"
	DefaultScreenshotHotkey = "Ctrl+Alt+A"
	DefaultModel            = "google/gemini-2.5-flash"
	DefaultPrompt           = "Describe the content of this image. If it contains text, transcribe it exactly."
	DefaultSourceLang       = "auto"
	DefaultTargetLang       = "English"

	DefaultHideSettleMs         = 100
	DefaultImageReadyTimeoutSec = 5
	DefaultCopyAckMs            = 800
	DefaultAnalysisDeadlineSec  = 60
)

type LoadOptions struct {
	// EnvPath bypasses env file discovery.
	EnvPath            string
	APIKeyPathOverride string
}

type Config struct {
	APIKey            string
	APIKeyPath        string
	Model             string
	Providers         []string
	Prompt            string
	EnableFileLogging bool
	LogLevel          string

	ResultHotkey     string
	ScreenshotHotkey string
	SourceLang       string
	TargetLang       string

	UsePhysicalResolution bool
	MaxThumbnailDimension int

	HideSettleMs         int
	ImageReadyTimeoutSec int
	CopyAckMs            int
	AnalysisDeadlineSec  int

	// EnvPath is the env file the values came from, empty if none.
	EnvPath string
}

func Load() (*Config, error) {
	return LoadWithOptions(LoadOptions{})
}

func LoadWithOptions(opts LoadOptions) (*Config, error) {
	// Load configuration from sources in priority order:
	// 1) process environment
	// 2) .env in the application (executable) directory
	// 3) if not found, the file named by SCREEN_CAPTURE_STAGE
	envPath := strings.TrimSpace(opts.EnvPath)
	if envPath == "" {
		envPath = resolveEnvPath()
	}
	env := source{values: readDotenvValues(envPath)}

	apiKeyPath := resolveAPIKeyPath(opts, env)

	cfg := &Config{
		APIKey:            resolveAPIKey(apiKeyPath, env),
		APIKeyPath:        apiKeyPath,
		Model:             env.getDefault("MODEL", DefaultModel),
		Providers:         splitList(env.get("PROVIDERS")),
		Prompt:            env.getDefault("PROMPT", DefaultPrompt),
		EnableFileLogging: strings.ToLower(env.get("ENABLE_FILE_LOGGING")) == "true",
		LogLevel:          env.getDefault("LOG_LEVEL", "info"),

		ResultHotkey:     env.getDefault("RESULT_HOTKEY", DefaultResultHotkey),
		ScreenshotHotkey: env.getDefault("SCREENSHOT_HOTKEY", DefaultScreenshotHotkey),
		SourceLang:       env.getDefault("SOURCE_LANG", DefaultSourceLang),
		TargetLang:       env.getDefault("TARGET_LANG", DefaultTargetLang),

		UsePhysicalResolution: env.getBool("SCREENSHOT_USE_PHYSICAL_RESOLUTION", true),
		MaxThumbnailDimension: env.getInt("SCREENSHOT_MAX_DIMENSION", 0, 0),

		HideSettleMs:         env.getInt("HIDE_SETTLE_MS", DefaultHideSettleMs, 0),
		ImageReadyTimeoutSec: env.getInt("IMAGE_READY_TIMEOUT_SEC", DefaultImageReadyTimeoutSec, 1),
		CopyAckMs:            env.getInt("COPY_ACK_MS", DefaultCopyAckMs, 0),
		AnalysisDeadlineSec:  env.getInt("ANALYSIS_DEADLINE_SEC", DefaultAnalysisDeadlineSec, 1),

		EnvPath: envPath,
	}

	return cfg, nil
}

// source looks keys up in the process environment first, then in the env
// file values.
type source struct {
	values map[string]string
}

func (s source) get(key string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(s.values[key])
}

func (s source) getDefault(key, defaultValue string) string {
	if v := s.get(key); v != "" {
		return v
	}
	return defaultValue
}

func (s source) getBool(key string, defaultValue bool) bool {
	v := s.get(key)
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

// getInt returns defaultValue when the key is unset, malformed or below min.
func (s source) getInt(key string, defaultValue, min int) int {
	v := s.get(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min {
		return defaultValue
	}
	return n
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func resolveEnvPath() string {
	if execPath, err := os.Executable(); err == nil {
		exeEnv := filepath.Join(filepath.Dir(execPath), ".env")
		if _, err := os.Stat(exeEnv); err == nil {
			return exeEnv
		}
	}

	if alt := os.Getenv(EnvPathEnvVar); alt != "" {
		if _, err := os.Stat(alt); err == nil {
			return alt
		}
	}

	return ""
}

func readDotenvValues(envPath string) map[string]string {
	if envPath == "" {
		return map[string]string{}
	}

	values, err := godotenv.Read(envPath)
	if err != nil {
		return map[string]string{}
	}

	return values
}

func resolveAPIKeyPath(opts LoadOptions, env source) string {
	keyPath := DefaultAPIKeyPath

	if envPath := env.get(APIKeyPathEnvVar); envPath != "" {
		keyPath = envPath
	}

	if overridePath := strings.TrimSpace(opts.APIKeyPathOverride); overridePath != "" {
		keyPath = overridePath
	}

	return keyPath
}

func resolveAPIKey(keyPath string, env source) string {
	if data, err := os.ReadFile(keyPath); err == nil {
		if fileKey := strings.TrimSpace(string(data)); fileKey != "" {
			return fileKey
		}
	}

	return env.get("OPENROUTER_API_KEY")
}
