// Package config loads the host configuration and the application
// definition.
//
// The host configuration (ports, timeouts, log level) comes from an
// optional YAML file with GANTRY_* environment variables layered on top.
// The application definition is a separate YAML document describing the
// resources to run; it is parsed into the model builder, which performs
// all structural validation. Definition files are additionally watched
// for changes so the user is told when the running state has drifted
// from the file on disk.
package config
