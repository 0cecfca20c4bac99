// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable
// interpolation, so secrets like the fallback API key and the Redis
// password can stay out of the file itself.
package config
