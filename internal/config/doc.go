// Package config handles YAML configuration loading with environment
// variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable
// interpolation. Defaults are applied after parsing; validation runs
// last and is the only fatal configuration path.
package config
