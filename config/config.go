// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package config provides the pact node configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/katzenpost/pact/core/log"
)

const (
	defaultLogLevel       = "NOTICE"
	defaultLedgerFile     = "pact.db"
	defaultStateFile      = "pact.state"
	defaultMetricsAddress = "127.0.0.1:9181"
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Ledger is the ledger store configuration.
type Ledger struct {
	// File is the path of the bolt database, relative to DataDir unless
	// absolute.
	File string
}

func (lCfg *Ledger) applyDefaults() {
	if lCfg.File == "" {
		lCfg.File = defaultLedgerFile
	}
}

// Logging is the pact logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl // Force uppercase.
	return nil
}

// Metrics is the prometheus endpoint configuration.
type Metrics struct {
	// Disable disables the metrics endpoint entirely.
	Disable bool

	// Address is the listen address of the metrics endpoint.
	Address string
}

func (mCfg *Metrics) applyDefaults() {
	if mCfg.Address == "" {
		mCfg.Address = defaultMetricsAddress
	}
}

// Messenger is the messenger client configuration.
type Messenger struct {
	// StateFile is the path of the encrypted statefile, relative to
	// DataDir unless absolute.
	StateFile string
}

func (mCfg *Messenger) applyDefaults() {
	if mCfg.StateFile == "" {
		mCfg.StateFile = defaultStateFile
	}
}

// Config is the top level pact configuration.
type Config struct {
	// DataDir is the absolute path to the node's state files.
	DataDir string

	Ledger    *Ledger
	Logging   *Logging
	Metrics   *Metrics
	Messenger *Messenger
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.  Most people should call one of the Load variants
// instead.
func (cfg *Config) FixupAndValidate() error {
	if cfg.DataDir == "" {
		return errors.New("config: No DataDir was present")
	}
	if !filepath.IsAbs(cfg.DataDir) {
		return fmt.Errorf("config: DataDir '%v' is not an absolute path", cfg.DataDir)
	}
	if cfg.Ledger == nil {
		cfg.Ledger = &Ledger{}
	}
	cfg.Ledger.applyDefaults()
	if cfg.Logging == nil {
		cfg.Logging = &defaultLogging
	}
	if err := cfg.Logging.validate(); err != nil {
		return err
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &Metrics{}
	}
	cfg.Metrics.applyDefaults()
	if cfg.Messenger == nil {
		cfg.Messenger = &Messenger{}
	}
	cfg.Messenger.applyDefaults()
	return nil
}

// LedgerPath returns the resolved path of the ledger database.
func (cfg *Config) LedgerPath() string {
	return cfg.resolve(cfg.Ledger.File)
}

// StateFilePath returns the resolved path of the messenger statefile.
func (cfg *Config) StateFilePath() string {
	return cfg.resolve(cfg.Messenger.StateFile)
}

func (cfg *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(cfg.DataDir, p)
}

// InitLogBackend creates the logging backend described by the Logging
// section.
func (cfg *Config) InitLogBackend() (*log.Backend, error) {
	f := cfg.Logging.File
	if f != "" && !filepath.IsAbs(f) {
		f = filepath.Join(cfg.DataDir, f)
	}
	return log.New(f, cfg.Logging.Level, cfg.Logging.Disable)
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
