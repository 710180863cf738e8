// Package config loads, normalizes, and validates quacwatch configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and loads an optional env file so share
// passwords can be supplied through password_env. The Config type centralizes every
// knob the daemon and CLI need so watch targets, job directories, pipeline
// settings and share credentials are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
