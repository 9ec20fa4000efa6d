// Package config loads, normalizes, and validates marginalia configuration.
//
// Configuration lives in TOML. Load resolves the file path, layers it over
// Default, pulls provider keys from the environment (after reading .env.local
// and .env without overriding variables that are already set), expands paths,
// and validates every section. CreateSample writes the embedded sample file.
package config
