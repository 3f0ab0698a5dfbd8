package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kioku/data/memories.db"
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "http://localhost:11434"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "nomic-embed-text"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Embedding.TimeoutSeconds == 0 {
		cfg.Embedding.TimeoutSeconds = 30
	}
	if cfg.Embedding.CooldownMillis == 0 {
		cfg.Embedding.CooldownMillis = 100
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1024
	}
	if cfg.Memory.DuplicateThreshold == 0 {
		cfg.Memory.DuplicateThreshold = 0.92
	}
	if cfg.Memory.MaxContentLength == 0 {
		cfg.Memory.MaxContentLength = 5000
	}
	if cfg.Memory.MinSimilarity == 0 {
		cfg.Memory.MinSimilarity = 0.3
	}
	if cfg.Memory.MaxResults == 0 {
		cfg.Memory.MaxResults = 5
	}
	// Diagnostics.ReportInterval keeps its zero value: 0 means disabled.
}
