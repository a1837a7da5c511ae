// Package config loads the merged clawvault configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"dario.cat/mergo"

	"github.com/roelfdiedericks/clawvault/internal/logging"
	"github.com/roelfdiedericks/clawvault/internal/paths"
)

// Config represents the merged clawvault configuration
type Config struct {
	Archive    ArchiveConfig    `json:"archive"`
	Scan       ScanConfig       `json:"scan"`
	Import     ImportConfig     `json:"import"`
	Summarizer SummarizerConfig `json:"summarizer"`
}

// ArchiveConfig configures the archive database
type ArchiveConfig struct {
	Path        string `json:"path"`        // Database path (default: ~/.openclaw/archive/archive.db)
	BusyTimeout int    `json:"busyTimeout"` // SQLite busy timeout in ms (default: 5000)
}

// ScanConfig configures session-log scanning
type ScanConfig struct {
	Root      string `json:"root"`      // State root to scan (default: ~/.openclaw)
	BatchSize int    `json:"batchSize"` // Max events per insert batch (default: 500)
}

// ImportConfig holds historical export import settings. No package reads
// these fields: the importers and the archive use fixed constants with the
// same values as the defaults below.
type ImportConfig struct {
	TelegramSelfID  string `json:"telegramSelfId"`  // Sender id treated as outbound (default: "user_self")
	WhatsAppSelf    string `json:"whatsappSelf"`    // Display name treated as outbound (default: "You")
	MaxFingerprint  int    `json:"maxFingerprint"`  // Max content chars hashed into fingerprints (default: 4096)
	NearDuplicateMs int64  `json:"nearDuplicateMs"` // Stage-3 timestamp tolerance (default: 1000)
}

// SummarizerConfig configures session summarization
type SummarizerConfig struct {
	Enabled          bool   `json:"enabled"`          // Use the remote summarizer (default: false, local fallback only)
	APIKey           string `json:"apiKey"`           // Anthropic API key (env ANTHROPIC_API_KEY wins)
	Model            string `json:"model"`            // Model id (default: "claude-3-5-haiku-latest")
	MaxContextTokens int    `json:"maxContextTokens"` // Transcript token budget (default: 4000)
}

// Default returns a Config populated with defaults.
func Default() *Config {
	archivePath, _ := paths.ArchivePath()
	stateDir, _ := paths.StateDir()
	return &Config{
		Archive: ArchiveConfig{
			Path:        archivePath,
			BusyTimeout: 5000,
		},
		Scan: ScanConfig{
			Root:      stateDir,
			BatchSize: 500,
		},
		Import: ImportConfig{
			TelegramSelfID:  "user_self",
			WhatsAppSelf:    "You",
			MaxFingerprint:  4096,
			NearDuplicateMs: 1000,
		},
		Summarizer: SummarizerConfig{
			Enabled:          false,
			Model:            "claude-3-5-haiku-latest",
			MaxContextTokens: 4000,
		},
	}
}

// LoadResult contains the loaded config and where it came from
type LoadResult struct {
	Config     *Config
	SourcePath string // Path to clawvault.json that was found, empty if defaults only
}

// Load reads clawvault.json (if present) and merges it over defaults.
// A missing config file is a valid state: defaults apply.
func Load(explicitPath string) (*LoadResult, error) {
	cfgPath := explicitPath
	if cfgPath == "" {
		var err error
		cfgPath, err = paths.ConfigPath()
		if err != nil {
			return nil, err
		}
	}

	cfg := Default()
	if cfgPath == "" {
		logging.L_debug("config: no file found, using defaults")
		return &LoadResult{Config: cfg}, nil
	}

	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", cfgPath, err)
	}

	var fileCfg Config
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", cfgPath, err)
	}

	// File values win over defaults
	if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge config: %w", err)
	}

	expanded, err := paths.ExpandTilde(cfg.Archive.Path)
	if err == nil {
		cfg.Archive.Path = expanded
	}
	if expanded, err := paths.ExpandTilde(cfg.Scan.Root); err == nil {
		cfg.Scan.Root = expanded
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.Summarizer.APIKey = key
	}

	logging.L_debug("config: loaded", "path", cfgPath)
	return &LoadResult{Config: cfg, SourcePath: cfgPath}, nil
}
