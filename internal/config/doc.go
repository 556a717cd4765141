// Package config loads and validates the asmfeed configuration file.
// Credentials and proxy passwords are resolved from environment variables so
// they never need to live in the YAML file itself. Validation is fail-fast:
// a missing credential or a partially specified proxy is a types.ConfigError
// before any network call is attempted. Watch provides fsnotify-based
// hot-reload for daemon mode; a reload that fails validation keeps the
// previous config active.
package config
