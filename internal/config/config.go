// Package config collects the environment-driven settings for the shard
// server and the router. Values come from the process environment with
// sensible fallbacks; there is no flag or file parsing.
package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultAddr            = "127.0.0.1:9001"
	defaultRouterAddr      = "127.0.0.1:9000"
	defaultMaxMemoryBytes  = 10 * 1024 * 1024
	defaultStorePath       = "blinkdb"
	defaultFilterSize      = 10000
	defaultCompactInterval = 5000
)

// Shard holds a shard server's settings.
type Shard struct {
	Addr            string
	MaxMemoryBytes  int64
	StorePath       string
	FilterSize      int
	CompactInterval time.Duration
}

// NewShard reads shard settings from the environment.
func NewShard() *Shard {
	return &Shard{
		Addr:            getString("ADDR", defaultAddr),
		MaxMemoryBytes:  getInt64("MAX_MEMORY_BYTES", defaultMaxMemoryBytes),
		StorePath:       getString("STORE_PATH", defaultStorePath),
		FilterSize:      getInt("FILTER_SIZE", defaultFilterSize),
		CompactInterval: time.Duration(getInt("COMPACT_INTERVAL_MS", defaultCompactInterval)) * time.Millisecond,
	}
}

// Router holds the router's settings.
type Router struct {
	Addr   string
	Shards []string
}

// NewRouter reads router settings from the environment. SHARDS is a
// comma-separated list of host:port addresses.
func NewRouter() (*Router, error) {
	shardsEnv := getString("SHARDS", "")
	var shards []string
	for _, s := range strings.Split(shardsEnv, ",") {
		if s = strings.TrimSpace(s); s != "" {
			shards = append(shards, s)
		}
	}
	if len(shards) == 0 {
		return nil, fmt.Errorf("SHARDS must list at least one shard address")
	}

	return &Router{
		Addr:   getString("ROUTER_ADDR", defaultRouterAddr),
		Shards: shards,
	}, nil
}
