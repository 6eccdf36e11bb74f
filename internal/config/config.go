// Package config provides the configuration schema and loader for the voxmux
// server.
package config

// LogLevel controls log verbosity for the voxmux server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for voxmux.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Engine  EngineConfig  `yaml:"engine"`
	VAD     VADConfig     `yaml:"vad"`
	Session SessionConfig `yaml:"session"`
	Archive ArchiveConfig `yaml:"archive"`
}

// ServerConfig holds network and logging settings for the voxmux server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins restricts which WebSocket origins may connect. Empty
	// allows all origins.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// EngineConfig configures the shared speech recognition engine.
type EngineConfig struct {
	// ModelPath is the path to the whisper.cpp model file (ggml format).
	ModelPath string `yaml:"model_path"`

	// Language is the transcription language code (e.g., "en"); "auto"
	// enables language detection. Defaults to "auto".
	Language string `yaml:"language"`

	// WindowSeconds bounds the rolling audio window the engine re-decodes
	// per increment. Defaults to 10.
	WindowSeconds int `yaml:"window_seconds"`
}

// VADConfig configures voice activity detection.
type VADConfig struct {
	// ModelPath is the path to the Silero VAD ONNX model file.
	ModelPath string `yaml:"model_path"`

	// Threshold is the speech probability cutoff in (0, 1). Defaults to 0.5.
	Threshold float32 `yaml:"threshold"`

	// MinSilenceMs is how long speech probability must stay below the
	// threshold before a speech-end boundary is reported. Defaults to 100.
	MinSilenceMs int `yaml:"min_silence_ms"`
}

// SessionConfig tunes the per-connection ingestion loop and the turn
// scheduler.
type SessionConfig struct {
	// MaxBufferChunks caps the per-source audio buffer; the oldest chunks
	// are dropped beyond it. Defaults to 200.
	MaxBufferChunks int `yaml:"max_buffer_chunks"`

	// MinTurnChunks is the minimum buffered chunk count before a source may
	// take a decode turn. Defaults to 6.
	MinTurnChunks int `yaml:"min_turn_chunks"`

	// ReceiveTimeoutMs bounds each socket receive so scheduling is
	// re-evaluated during silence. Defaults to 100.
	ReceiveTimeoutMs int `yaml:"receive_timeout_ms"`
}

// ArchiveConfig configures transcript persistence.
type ArchiveConfig struct {
	// PostgresDSN is the connection string for the transcript database.
	// When empty, transcripts are kept in memory only.
	PostgresDSN string `yaml:"postgres_dsn"`
}
