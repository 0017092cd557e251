package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// DiskBackend selects which DiskManager implementation backs the pool.
type DiskBackend string

const (
	DiskBackendFile DiskBackend = "file"
	DiskBackendMmap DiskBackend = "mmap"
)

// Config holds storage engine configuration.
type Config struct {
	// Buffer Pool Configuration
	BufferPoolSize uint32 `json:"buffer_pool_size"` // Number of frames in the buffer pool
	K              int    `json:"k"`                // LRU-K replacer parameter
	BucketSize     int    `json:"bucket_size"`       // Extendible hash index bucket capacity

	// Disk Configuration
	DataDirectory   string          `json:"data_directory"`
	PageSize        uint32          `json:"page_size"`
	DiskBackend     DiskBackend     `json:"disk_backend"`
	CompressionType CompressionType `json:"compression_type"`

	// Performance Configuration
	EnableMetrics bool   `json:"enable_metrics"`
	LogLevel      string `json:"log_level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BufferPoolSize:  100,
		K:               2,
		BucketSize:      4,
		DataDirectory:   "./data",
		PageSize:        PageSize,
		DiskBackend:     DiskBackendFile,
		CompressionType: CompressionNone,
		EnableMetrics:   true,
		LogLevel:        "info",
	}
}

// LoadConfigFromFile loads configuration from a JSON file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadConfigFromEnv loads configuration from environment variables,
// falling back to defaults for anything unset.
func LoadConfigFromEnv() *Config {
	config := DefaultConfig()

	if val := os.Getenv("HEXCORE_BUFFER_POOL_SIZE"); val != "" {
		if size, err := strconv.ParseUint(val, 10, 32); err == nil {
			config.BufferPoolSize = uint32(size)
		}
	}

	if val := os.Getenv("HEXCORE_K"); val != "" {
		if k, err := strconv.Atoi(val); err == nil {
			config.K = k
		}
	}

	if val := os.Getenv("HEXCORE_BUCKET_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			config.BucketSize = size
		}
	}

	if val := os.Getenv("HEXCORE_DATA_DIRECTORY"); val != "" {
		config.DataDirectory = val
	}

	if val := os.Getenv("HEXCORE_PAGE_SIZE"); val != "" {
		if size, err := strconv.ParseUint(val, 10, 32); err == nil {
			config.PageSize = uint32(size)
		}
	}

	if val := os.Getenv("HEXCORE_DISK_BACKEND"); val != "" {
		config.DiskBackend = DiskBackend(val)
	}

	if val := os.Getenv("HEXCORE_COMPRESSION"); val != "" {
		switch val {
		case "lz4":
			config.CompressionType = CompressionLZ4
		case "snappy":
			config.CompressionType = CompressionSnappy
		default:
			config.CompressionType = CompressionNone
		}
	}

	if val := os.Getenv("HEXCORE_ENABLE_METRICS"); val != "" {
		config.EnableMetrics = val == "true" || val == "1"
	}

	if val := os.Getenv("HEXCORE_LOG_LEVEL"); val != "" {
		config.LogLevel = val
	}

	return config
}

// SaveToFile saves the configuration to a JSON file.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", " ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.BufferPoolSize == 0 {
		return fmt.Errorf("buffer pool size must be greater than 0")
	}

	if c.K < 1 {
		return fmt.Errorf("k must be at least 1")
	}

	if c.BucketSize < 1 {
		return fmt.Errorf("bucket size must be at least 1")
	}

	if c.PageSize == 0 {
		return fmt.Errorf("page size must be greater than 0")
	}

	if c.PageSize%512 != 0 {
		return fmt.Errorf("page size must be a multiple of 512")
	}

	if c.DataDirectory == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	if c.DiskBackend != DiskBackendFile && c.DiskBackend != DiskBackendMmap {
		return fmt.Errorf("invalid disk backend: %s (must be file or mmap)", c.DiskBackend)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	return &Config{
		BufferPoolSize:  c.BufferPoolSize,
		K:               c.K,
		BucketSize:      c.BucketSize,
		DataDirectory:   c.DataDirectory,
		PageSize:        c.PageSize,
		DiskBackend:     c.DiskBackend,
		CompressionType: c.CompressionType,
		EnableMetrics:   c.EnableMetrics,
		LogLevel:        c.LogLevel,
	}
}
