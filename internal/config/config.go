package config

import (
	"fmt"
	"time"
)

const (
	ProviderWhisper     = "whisper"
	ProviderCloudSpeech = "cloud_speech"
)

type Config struct {
	Env  string
	Host string
	Port int

	TranscriberProvider       string
	DefaultTranscribeLanguage string

	WhisperURL         string
	WhisperModel       string
	WhisperDevice      string
	WhisperComputeType string

	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string

	ChunkThresholdMs int
	IdleTimeoutSec   int
	MaxAudioSizeMB   int
	SampleRate       int
	Channels         int
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be a valid port, got %d", c.Port)
	}
	switch c.TranscriberProvider {
	case ProviderWhisper:
		if c.WhisperURL == "" {
			return fmt.Errorf("WHISPER_URL is required when TRANSCRIBER_PROVIDER=%s", ProviderWhisper)
		}
	case ProviderCloudSpeech:
		for _, req := range c.requiredCloudSpeechChecks() {
			if req.value == "" {
				return fmt.Errorf("%s is required when TRANSCRIBER_PROVIDER=%s", req.name, ProviderCloudSpeech)
			}
		}
	default:
		return fmt.Errorf("TRANSCRIBER_PROVIDER must be %q or %q, got %q", ProviderWhisper, ProviderCloudSpeech, c.TranscriberProvider)
	}
	if c.ChunkThresholdMs <= 0 {
		return fmt.Errorf("CHUNK_THRESHOLD_MS must be positive, got %d", c.ChunkThresholdMs)
	}
	if c.IdleTimeoutSec <= 0 {
		return fmt.Errorf("IDLE_TIMEOUT_SEC must be positive, got %d", c.IdleTimeoutSec)
	}
	if c.MaxAudioSizeMB < 0 {
		return fmt.Errorf("MAX_AUDIO_SIZE_MB must not be negative, got %d", c.MaxAudioSizeMB)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("SAMPLE_RATE must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("CHANNELS must be positive, got %d", c.Channels)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredCloudSpeechChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "GOOGLE_CLOUD_PROJECT_ID", value: c.GoogleCloudProjectID},
		{name: "GOOGLE_CLOUD_CREDENTIALS_JSON", value: c.GoogleCloudCredentialsJSON},
		{name: "GOOGLE_CLOUD_SPEECH_LOCATION", value: c.GoogleCloudSpeechLocation},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) ChunkThreshold() time.Duration {
	return time.Duration(c.ChunkThresholdMs) * time.Millisecond
}

func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSec) * time.Second
}

func (c *Config) MaxAudioSizeBytes() int64 {
	return int64(c.MaxAudioSizeMB) * 1024 * 1024
}
