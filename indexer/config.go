package indexer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogFile        string   `yaml:"log"`
	Root           string   `yaml:"root"`
	IndexPath      string   `yaml:"index_path"`
	IgnoredFolders []string `yaml:"ignored_folders"`
	IgnoredFiles   []string `yaml:"ignored_files"`
	Depth          int      `yaml:"depth"`
	Types          []string `yaml:"types"`
	Concurrency    int      `yaml:"concurrency"`
	TopK           int      `yaml:"top_k"`
	ChunkSize      int      `yaml:"chunk_size"`
	ChunkOverlap   int      `yaml:"chunk_overlap"`
	RequestSize    int      `yaml:"request_size"`
	DebounceMs     int      `yaml:"write_debounce_ms"`
	ServerAddr     string   `yaml:"server_addr"`
	ChromaAddr     string   `yaml:"chroma_addr"`
	Collection     string   `yaml:"collection"`
	OpenAI         *struct {
		Model  string `yaml:"model"`
		ApiKey string `yaml:"api_key"`
	} `yaml:"open_ai"`
	Gemini *struct {
		Model  string `yaml:"model"`
		ApiKey string `yaml:"api_key"`
	} `yaml:"gemini"`
}

func ReadConfig(cfgPath string) (*Config, error) {
	cfgFile, err := os.Open(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("unable to open config file: %w", err)
	}
	defer cfgFile.Close()

	cfg := &Config{}
	dec := yaml.NewDecoder(cfgFile)
	err = dec.Decode(cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to parse config file: %w", err)
	}

	return cfg, nil
}

// ApplyDefaults fills in every unset option and validates the ones that
// have no usable default.
func (c *Config) ApplyDefaults() error {
	if c.Root == "" {
		return errors.New("indexed root path is required")
	}
	if c.IndexPath == "" {
		c.IndexPath = filepath.Join(c.Root, ".indices")
	}
	if c.Depth == 0 {
		c.Depth = 3
	}
	if c.Types == nil {
		c.Types = []string{".txt", ".tex", ".pdf", ".xlsx"}
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1000
	}
	if c.ChunkOverlap <= 0 {
		c.ChunkOverlap = 100
	}
	if c.DebounceMs <= 0 {
		c.DebounceMs = 500
	}
	if c.Collection == "" {
		c.Collection = "docindex"
	}

	return nil
}
