// Package config loads the daily-stats configuration.
//
// Configuration is a YAML file with ${VAR} references expanded from the
// environment. A .env file in the working directory, when present, is
// loaded into the environment first. Without a file the built-in template
// is used, which reads the store location from SUPABASE_URL and
// SUPABASE_KEY.
package config
