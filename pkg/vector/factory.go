package vector

import (
	"fmt"
)

// ProviderType selects a vector backend.
type ProviderType string

const (
	ProviderChromem  ProviderType = "chromem"
	ProviderQdrant   ProviderType = "qdrant"
	ProviderPinecone ProviderType = "pinecone"
)

// Config selects and configures the prefab index backend.
type Config struct {
	Type     ProviderType   `yaml:"type"`
	Chromem  ChromemConfig  `yaml:"chromem,omitempty"`
	Qdrant   QdrantConfig   `yaml:"qdrant,omitempty"`
	Pinecone PineconeConfig `yaml:"pinecone,omitempty"`
}

func (c *Config) SetDefaults() {
	if c.Type == "" {
		c.Type = ProviderChromem
	}
}

func (c *Config) Validate() error {
	switch c.Type {
	case ProviderChromem:
		return nil
	case ProviderQdrant:
		return nil
	case ProviderPinecone:
		if c.Pinecone.APIKey == "" {
			return fmt.Errorf("pinecone backend requires api_key")
		}
		return nil
	default:
		return fmt.Errorf("unknown vector backend %q (expected chromem, qdrant or pinecone)", c.Type)
	}
}

// NewProvider builds the configured backend. A nil config disables the
// prefab index entirely; callers get a NilProvider whose operations report
// the store as unavailable.
func NewProvider(cfg *Config) (Provider, error) {
	if cfg == nil {
		return NilProvider{}, nil
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case ProviderChromem:
		return NewChromemProvider(cfg.Chromem)
	case ProviderQdrant:
		return NewQdrantProvider(cfg.Qdrant)
	case ProviderPinecone:
		return NewPineconeProvider(cfg.Pinecone)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Type)
	}
}
