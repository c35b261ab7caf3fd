// Package config defines the launcher download engine configuration.
//
// Configuration can be provided via:
//   - YAML configuration file (see DefaultPath)
//   - Environment variables (LAUNCHER_ prefix)
//   - Values set from the settings window, written back with SaveToFile
//
// Sizes accept human-readable strings ("2MB", "512KiB"); durations use
// time.ParseDuration syntax.
package config
