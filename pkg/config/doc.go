// Package config loads the netops configuration file.
//
// The file is YAML. It is decoded over DefaultConfig, so any omitted key keeps
// its default, and unknown keys are rejected. Validation then runs in three
// steps:
//
//  1. struct tags, checked by go-playground/validator
//  2. the embedded CUE schema (schema.cue), which bounds ranges and formats
//  3. conversion, which parses durations and issue policies
//
// Every failure is an engine configuration error.
//
// A minimal file:
//
//	devices:
//	  - id: leaf-1
//	    host: 10.0.0.11
//	    user: admin
//	    auth: password
//	    password: secret
//	backup:
//	  server: 10.0.0.5
//
// Durations are Go duration strings ("15m", "100ms").
package config
