// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for sessionguard.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (SESSIONGUARD_*), including any set by a .env file
//   - $SESSIONGUARD_CONFIG, or ~/.sessionguard/config.toml
//   - Built-in defaults
//
// A .env file never overrides variables that are already set.
//
// # Example
//
//	[api]
//	base_url = "https://events.example.org/api"
//	timeout = "15s"
//
//	[codec]
//	secret = "change-me"
//
//	[session]
//	test_mode = false
//	warn_before = "2m"
//
//	[vault]
//	driver = "redis"
//	redis_addr = "127.0.0.1:6379"
//
// # Usage
//
//	_ = config.LoadDotEnv()
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	pol := cfg.Policy()
package config
