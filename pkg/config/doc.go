// Package config handles gateway configuration loading from a YAML file,
// layered with built-in defaults and environment overrides for secrets and
// deployment knobs.
package config
