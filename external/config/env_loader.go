package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/mimitori/internal/config"
)

type envConfig struct {
	Env  string `env:"ENV" envDefault:"production"`
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"HTTP_PORT" envDefault:"8000"`

	TranscriberProvider       string `env:"TRANSCRIBER_PROVIDER" envDefault:"whisper"`
	DefaultTranscribeLanguage string `env:"DEFAULT_TRANSCRIBE_LANGUAGE"`

	WhisperURL         string `env:"WHISPER_URL" envDefault:"http://localhost:8387"`
	WhisperModel       string `env:"WHISPER_MODEL_SIZE" envDefault:"base"`
	WhisperDevice      string `env:"WHISPER_DEVICE" envDefault:"cpu"`
	WhisperComputeType string `env:"WHISPER_COMPUTE_TYPE" envDefault:"int8"`

	GoogleCloudProjectID       string `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechLocation  string `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"global"`
	GoogleCloudSpeechModel     string `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"latest_long"`

	ChunkThresholdMs int `env:"CHUNK_THRESHOLD_MS" envDefault:"5000"`
	IdleTimeoutSec   int `env:"IDLE_TIMEOUT_SEC" envDefault:"60"`
	MaxAudioSizeMB   int `env:"MAX_AUDIO_SIZE_MB" envDefault:"50"`
	SampleRate       int `env:"AUDIO_SAMPLE_RATE" envDefault:"16000"`
	Channels         int `env:"AUDIO_CHANNELS" envDefault:"1"`
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                        raw.Env,
		Host:                       raw.Host,
		Port:                       raw.Port,
		TranscriberProvider:        raw.TranscriberProvider,
		DefaultTranscribeLanguage:  raw.DefaultTranscribeLanguage,
		WhisperURL:                 raw.WhisperURL,
		WhisperModel:               raw.WhisperModel,
		WhisperDevice:              raw.WhisperDevice,
		WhisperComputeType:         raw.WhisperComputeType,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:     raw.GoogleCloudSpeechModel,
		ChunkThresholdMs:           raw.ChunkThresholdMs,
		IdleTimeoutSec:             raw.IdleTimeoutSec,
		MaxAudioSizeMB:             raw.MaxAudioSizeMB,
		SampleRate:                 raw.SampleRate,
		Channels:                   raw.Channels,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
