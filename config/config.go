package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DefaultBackendURL = "https://api.finalyze.pro"
	DefaultHotkey     = "Alt+C"
	DefaultModel      = "GPT-3.5-turbo"

	DefaultAPIKeyPath = "/run/secrets/api_keys/openrouter"
	APIKeyPathEnvVar  = "OPENROUTER_API_KEY_FILE"

	HostModeIPC   = "ipc"
	HostModeLocal = "local"

	AIModeBackend = "backend"
	AIModeDirect  = "direct"
)

type LoadOptions struct {
	APIKeyPathOverride string
	StateDirOverride   string
}

type Config struct {
	// Backend HTTP API.
	BackendURL string

	// Host shell. HostMode selects the IPC client or the in-process
	// local adapter. The port range applies to IPC mode only.
	HostMode      string
	HostPortStart int
	HostPortEnd   int

	// Vision OCR engine (OpenRouter-style chat completions).
	VisionAPIKey  string
	VisionKeyPath string
	VisionModel   string

	// AIMode selects the analyze variant: backend-proxied ("backend")
	// or a direct vision-API call with the user's own key ("direct").
	AIMode string

	Hotkey            string
	DefaultModel      string
	EnableFileLogging bool
	OCRDeadlineSec    int

	// StateDir holds durable client state (session snapshot, refresh
	// token store, app state).
	StateDir string
}

func Load() (*Config, error) {
	return LoadWithOptions(LoadOptions{})
}

func LoadWithOptions(opts LoadOptions) (*Config, error) {
	// Configuration sources in priority order:
	// 1) .env in the application (executable) directory
	// 2) If not found, FRAMESENSE_ENV as a path to a config file
	envPath := resolveEnvPath()
	dotenvValues := readDotenvValues(envPath)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	}

	ocrDeadlineSec := 20
	if v := os.Getenv("OCR_DEADLINE_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ocrDeadlineSec = n
		}
	}

	visionKeyPath := resolveVisionKeyPath(opts, dotenvValues)

	cfg := &Config{
		BackendURL:        getEnvWithDefault("BACKEND_URL", DefaultBackendURL),
		HostMode:          resolveHostMode(os.Getenv("HOST_MODE")),
		HostPortStart:     getEnvInt("HOST_PORT_START", 49600),
		HostPortEnd:       getEnvInt("HOST_PORT_END", 49650),
		VisionAPIKey:      resolveVisionKey(visionKeyPath),
		VisionKeyPath:     visionKeyPath,
		VisionModel:       os.Getenv("VISION_MODEL"),
		AIMode:            resolveAIMode(os.Getenv("AI_MODE")),
		Hotkey:            getEnvWithDefault("HOTKEY", DefaultHotkey),
		DefaultModel:      getEnvWithDefault("DEFAULT_MODEL", DefaultModel),
		EnableFileLogging: strings.ToLower(os.Getenv("ENABLE_FILE_LOGGING")) == "true",
		OCRDeadlineSec:    ocrDeadlineSec,
		StateDir:          resolveStateDir(opts),
	}

	return cfg, nil
}

func resolveEnvPath() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}

	execDir := filepath.Dir(execPath)
	exeEnv := filepath.Join(execDir, ".env")
	if _, err := os.Stat(exeEnv); err == nil {
		return exeEnv
	}

	if alt := os.Getenv("FRAMESENSE_ENV"); alt != "" {
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

func resolveVisionKeyPath(opts LoadOptions, dotenvValues map[string]string) string {
	keyPath := DefaultAPIKeyPath

	if envPath := strings.TrimSpace(os.Getenv(APIKeyPathEnvVar)); envPath != "" {
		keyPath = envPath
	}

	if dotenvPath := strings.TrimSpace(dotenvValues[APIKeyPathEnvVar]); dotenvPath != "" {
		keyPath = dotenvPath
	}

	if overridePath := strings.TrimSpace(opts.APIKeyPathOverride); overridePath != "" {
		keyPath = overridePath
	}

	return keyPath
}

func resolveVisionKey(keyPath string) string {
	if data, err := os.ReadFile(keyPath); err == nil {
		if fileKey := strings.TrimSpace(string(data)); fileKey != "" {
			return fileKey
		}
	}

	return os.Getenv("OPENROUTER_API_KEY")
}

func resolveHostMode(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case HostModeIPC:
		return HostModeIPC
	case HostModeLocal, "":
		return HostModeLocal
	default:
		return HostModeLocal
	}
}

func resolveAIMode(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case AIModeDirect:
		return AIModeDirect
	default:
		return AIModeBackend
	}
}

func resolveStateDir(opts LoadOptions) string {
	if override := strings.TrimSpace(opts.StateDirOverride); override != "" {
		return override
	}
	if v := strings.TrimSpace(os.Getenv("STATE_DIR")); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".framesense"
	}
	return filepath.Join(home, ".framesense")
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}
