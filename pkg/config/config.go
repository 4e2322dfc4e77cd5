package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		Provider   string `yaml:"provider"` // "openai" or "ollama"; empty selects by credential
		APIKey     string `yaml:"api_key"`
		Model      string `yaml:"model"`
		EmbedModel string `yaml:"embed_model"`
		BaseURL    string `yaml:"base_url"` // Ollama server URL
		MaxTokens  int    `yaml:"max_tokens"`
	} `yaml:"llm"`

	Database struct {
		URL       string `yaml:"url"`
		TableName string `yaml:"table_name"`
		VectorDim int    `yaml:"vector_dim"`
		BatchSize int    `yaml:"batch_size"`
	} `yaml:"database"`

	Corpus struct {
		Dir      string `yaml:"dir"`
		URLsFile string `yaml:"urls_file"`
	} `yaml:"corpus"`

	Processor struct {
		ChunkSize    int `yaml:"chunk_size"`
		ChunkOverlap int `yaml:"chunk_overlap"`
	} `yaml:"processor"`

	Bank struct {
		Threshold int    `yaml:"threshold"`
		SeedFile  string `yaml:"seed_file"`
	} `yaml:"bank"`

	Scraper struct {
		MaxDepth  int     `yaml:"max_depth"`
		RateLimit float64 `yaml:"rate_limit"`
	} `yaml:"scraper"`

	Retrieval struct {
		TopK int `yaml:"top_k"`
	} `yaml:"retrieval"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/quest/config.yaml"),
			"/etc/quest/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Model == "" {
		if config.LLM.APIKey != "" {
			config.LLM.Model = "gpt-4o-mini"
		} else {
			config.LLM.Model = "mistral"
		}
	}
	if config.LLM.EmbedModel == "" {
		if config.LLM.APIKey != "" {
			config.LLM.EmbedModel = "text-embedding-3-small"
		} else {
			config.LLM.EmbedModel = "nomic-embed-text:latest"
		}
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 512
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "policy_chunks"
	}
	if config.Database.VectorDim == 0 {
		if config.LLM.APIKey != "" {
			config.Database.VectorDim = 1536
		} else {
			config.Database.VectorDim = 768
		}
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 64
	}

	if config.Corpus.Dir == "" {
		config.Corpus.Dir = "./data"
	}
	if config.Corpus.URLsFile == "" {
		config.Corpus.URLsFile = "urls.txt"
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 1000
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 200
	}

	if config.Bank.Threshold == 0 {
		config.Bank.Threshold = 85
	}

	if config.Scraper.MaxDepth == 0 {
		config.Scraper.MaxDepth = 1
	}
	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 4
	}
}

func mergeWithEnv(config *Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		config.LLM.APIKey = key
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
}
