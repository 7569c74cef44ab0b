package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Config is the merged server configuration: defaults, then the optional
// JSON config file, then command-line flags, later layers winning.
type Config struct {
	Bind          string   `json:"bind"`
	Port          int      `json:"port"`
	MaxClients    int      `json:"maxclients"`
	Dir           string   `json:"dir"`
	WorkerThreads int      `json:"worker-threads"`
	NodeId        int      `json:"node-id"`
	ClusterAddrs  []string `json:"cluster-addrs"`
	RaftEnabled   bool     `json:"raft-enabled"`
	RaftStorage   string   `json:"raft-storage"`
	LogLevel      string   `json:"log-level"`
	MetricsAddr   string   `json:"metrics-addr"`
}

func DefaultConfig() Config {
	return Config{
		Bind:          "0.0.0.0",
		Port:          6379,
		MaxClients:    10000,
		Dir:           "./data",
		WorkerThreads: runtime.NumCPU(),
		RaftEnabled:   true,
		RaftStorage:   "disk",
		LogLevel:      "info",
	}
}

// ParseConfig builds the configuration from command-line arguments of the
// form "[CONFIG_FILE] [--opt val]...". Unknown keys, in the file or on the
// command line, are an error.
func ParseConfig(args []string) (Config, error) {
	cfg := DefaultConfig()

	if len(args) > 0 && !strings.HasPrefix(args[0], "--") {
		content, err := os.ReadFile(args[0])
		if err != nil {
			return cfg, fmt.Errorf("cannot read config file %s: %w", args[0], err)
		}
		dec := json.NewDecoder(bytes.NewReader(content))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("cannot parse config file %s: %w", args[0], err)
		}
		args = args[1:]
	}

	for len(args) > 0 {
		key, ok := strings.CutPrefix(args[0], "--")
		if !ok {
			return cfg, fmt.Errorf("unexpected argument %q", args[0])
		}
		if len(args) < 2 {
			return cfg, fmt.Errorf("missing value for option --%s", key)
		}
		value := args[1]
		args = args[2:]
		if err := cfg.setOption(key, value); err != nil {
			return cfg, err
		}
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) setOption(key, value string) error {
	var err error
	switch key {
	case "bind":
		c.Bind = value
	case "port":
		c.Port, err = strconv.Atoi(value)
	case "maxclients":
		c.MaxClients, err = strconv.Atoi(value)
	case "dir":
		c.Dir = value
	case "worker-threads":
		c.WorkerThreads, err = strconv.Atoi(value)
	case "node-id":
		c.NodeId, err = strconv.Atoi(value)
	case "cluster-addrs":
		c.ClusterAddrs = strings.Fields(value)
	case "raft-enabled":
		switch value {
		case "yes":
			c.RaftEnabled = true
		case "no":
			c.RaftEnabled = false
		default:
			err = fmt.Errorf("raft-enabled must be yes or no, got %q", value)
		}
	case "raft-storage":
		c.RaftStorage = value
	case "log-level":
		c.LogLevel = value
	case "metrics-addr":
		c.MetricsAddr = value
	default:
		err = fmt.Errorf("unknown option --%s", key)
	}
	if err != nil {
		return fmt.Errorf("invalid value for --%s: %v", key, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.RaftStorage != "disk" && c.RaftStorage != "memory" {
		return fmt.Errorf("raft-storage must be disk or memory, got %q", c.RaftStorage)
	}
	if len(c.ClusterAddrs) == 0 {
		c.ClusterAddrs = []string{fmt.Sprintf("%s:%d", c.Bind, c.Port)}
	}
	if c.NodeId < 0 || c.NodeId >= len(c.ClusterAddrs) {
		return fmt.Errorf("node-id %d has no cluster-addrs entry", c.NodeId)
	}
	if c.WorkerThreads <= 0 {
		c.WorkerThreads = runtime.NumCPU()
	}
	return nil
}

// ClientAddr is the advertised client address of node id, used by MOVED
// redirects and CLUSTER SLOTS.
func (c *Config) ClientAddr(id int) string {
	return c.ClusterAddrs[id]
}

// PeerAddr derives the raft RPC address of node id from its client address:
// the same host, client port + 10000.
func (c *Config) PeerAddr(id int) (string, error) {
	addr := c.ClusterAddrs[id]
	i := strings.LastIndexByte(addr, ':')
	if i < 0 {
		return "", fmt.Errorf("malformed cluster address %q", addr)
	}
	port, err := strconv.Atoi(addr[i+1:])
	if err != nil {
		return "", fmt.Errorf("malformed cluster address %q", addr)
	}
	return fmt.Sprintf("%s:%d", addr[:i], port+10000), nil
}
