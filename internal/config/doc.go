// Package config loads the YAML configuration of bookd.
//
// ${VAR} references are expanded from the environment before parsing, so
// secrets such as api.secret and database.postgres.password can stay out of
// the file. LoadAndValidate is the usual entry point.
package config
