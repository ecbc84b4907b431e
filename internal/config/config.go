// Package config reads and writes kvs.conf, the one-field record of
// which engine a server data directory was first opened with.
package config

import (
	"encoding/json"
	"os"

	"github.com/gtarraga/kvs/internal/engine/kvserr"
)

// FileName is the config file's name. kvs-server places it in its data
// directory (--data-dir).
const FileName = "kvs.conf"

// Config is the on-disk record. Engine is "kvs" or "sled".
type Config struct {
	Engine string `json:"engine"`
}

// EnsureEngine reads path's config, creating it with engine if absent.
// It returns kvserr.ConfigMismatch if the file already records a
// different engine than the one requested.
func EnsureEngine(path, engine string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return write(path, Config{Engine: engine})
	}
	if err != nil {
		return kvserr.Wrap(kvserr.IoError, "read config file", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return kvserr.Wrap(kvserr.CodecError, "decode config file", err)
	}
	if cfg.Engine != engine {
		return kvserr.New(kvserr.ConfigMismatch, "requested engine \""+engine+"\" disagrees with recorded engine \""+cfg.Engine+"\"")
	}
	return nil
}

func write(path string, cfg Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return kvserr.Wrap(kvserr.CodecError, "encode config file", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return kvserr.Wrap(kvserr.IoError, "write config file", err)
	}
	return nil
}
