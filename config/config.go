/*
Copyright Scivis Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package config holds the process-wide configuration, loaded once at
// startup from a YAML file.
package config

import (
	"os"

	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/scivis-labs/raynet/pkg/types"
)

// Config is the global configuration instance, populated by LoadFile.
var Config configuration

type configuration struct {
	Id int `yaml:"id"` // numeric rank of this node

	// Addresses of all nodes, indexed by rank ("host:port").
	Nodes []string `yaml:"nodes"`

	Logging string `yaml:"logging"` // zerolog level: debug, info, warn, error

	// Control message channel: maximum message length in int32 elements and
	// the number of pre-posted receives.
	MaxMessageLength int `yaml:"maxMessageLength"`
	MessageRecvs     int `yaml:"messageRecvs"`

	// Number of pre-posted receives on the ray channel.
	RayRecvs int `yaml:"rayRecvs"`

	// Path of the message-event journal. Empty disables journaling.
	JournalPath string `yaml:"journalPath"`

	// Seconds to wait for a connection to each peer before giving up.
	// Zero selects the transport's default.
	ConnectTimeout int `yaml:"connectTimeout"`
}

// LoadFile reads the configuration from the given file into Config and
// applies the configured log level. Errors are fatal.
func LoadFile(configFileName string) {
	f, err := os.ReadFile(configFileName)
	if err != nil {
		logger.Fatal().Err(err).Str("file", configFileName).Msg("Could not read config file.")
	}

	if err := yaml.Unmarshal(f, &Config); err != nil {
		logger.Fatal().Err(err).Str("file", configFileName).Msg("Could not unmarshal config file.")
	}

	if Config.Logging != "" {
		level, err := zerolog.ParseLevel(Config.Logging)
		if err != nil {
			logger.Fatal().Err(err).Str("level", Config.Logging).Msg("Unknown log level.")
		}
		zerolog.SetGlobalLevel(level)
	}

	logger.Debug().
		Int("id", Config.Id).
		Int("nodes", len(Config.Nodes)).
		Int("maxMessageLength", Config.MaxMessageLength).
		Int("messageRecvs", Config.MessageRecvs).
		Int("rayRecvs", Config.RayRecvs).
		Str("journalPath", Config.JournalPath).
		Int("connectTimeout", Config.ConnectTimeout).
		Msg("Configuration loaded.")
}

// Membership returns the rank -> address map the gRPC transport consumes.
func Membership() map[types.Rank]string {
	m := make(map[types.Rank]string, len(Config.Nodes))
	for i, addr := range Config.Nodes {
		m[types.Rank(i)] = addr
	}
	return m
}
