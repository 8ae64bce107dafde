// Package config loads and merges agent configuration.
//
// Configuration is organised in layers, higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  4. Runtime overrides       │  ← JSON document, Set/Override
//	├─────────────────────────────┤
//	│  3. Environment             │  ← RUMBEACON_*
//	├─────────────────────────────┤
//	│  2. Config file             │  ← .toml, .yaml or .json
//	├─────────────────────────────┤
//	│  1. Built-in defaults       │
//	└─────────────────────────────┘
//
// Top-level keys are the core options (beacon_url, beacon_type, ...).
// Every other map-valued key is a plugin section, read through Section:
//
//	cfg := config.New(config.WithFile("rum.toml"), config.WithSections("RT", "AutoXHR"))
//	if err := cfg.Load(); err != nil { ... }
//	opts := cfg.Options()
//	rt := cfg.Section("RT")
//
// Watch enables live reload: when the file changes it is re-read and every
// OnChange callback receives the changed paths.
package config
