package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr  string
	DBURL       string
	TLSCertPath string
	TLSKeyPath  string
	MasterKey   []byte
	LogLevel    string
	LogFormat   string
	SendRate    float64
	SendBurst   int
}

// LoadFromEnv reads the server configuration from the environment. A dotenv
// file (COURIER_ENV_FILE, default ".env") is loaded first when present;
// variables already set in the environment win over the file.
func LoadFromEnv() (Config, error) {
	if err := loadDotenv(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:  ":8080",
		DBURL:       os.Getenv("COURIER_DB_URL"),
		TLSCertPath: os.Getenv("COURIER_TLS_CERT"),
		TLSKeyPath:  os.Getenv("COURIER_TLS_KEY"),
		LogLevel:    "info",
		LogFormat:   "text",
		SendRate:    5,
		SendBurst:   10,
	}

	if v := os.Getenv("COURIER_MASTER_KEY"); v != "" {
		key, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return Config{}, errors.New("master key must be base64")
		}
		cfg.MasterKey = key
	}
	if v := os.Getenv("COURIER_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("COURIER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("COURIER_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("COURIER_SEND_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("send rate: %w", err)
		}
		cfg.SendRate = rate
	}
	if v := os.Getenv("COURIER_SEND_BURST"); v != "" {
		burst, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("send burst: %w", err)
		}
		cfg.SendBurst = burst
	}

	return cfg, nil
}

func loadDotenv() error {
	path := os.Getenv("COURIER_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if c.DBURL == "" {
		return errors.New("db url is required")
	}
	if len(c.MasterKey) != 32 {
		return errors.New("master key must be 32 bytes (base64-encoded)")
	}
	if (c.TLSCertPath == "") != (c.TLSKeyPath == "") {
		return errors.New("both tls cert and key are required when enabling tls")
	}
	if c.SendRate <= 0 || c.SendBurst <= 0 {
		return errors.New("send rate and burst must be positive")
	}
	return nil
}
