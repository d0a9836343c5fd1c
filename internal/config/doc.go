// Package config provides configuration loading for the licensekit server
// and client.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority), optionally from a .env file
//	2. YAML configuration file
//	3. Default values from struct tags (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern LICENSEKIT_<SECTION>_<FIELD>:
//
//	LICENSEKIT_SERVER_PORT=8080
//	LICENSEKIT_STORE_DRIVER=postgres
//	LICENSEKIT_STORE_DSN=postgres://...
//	LICENSEKIT_CLIENT_AUTHORITY_URL=https://licenses.example.com
//
// # Configuration File
//
// The YAML file is read from LICENSEKIT_CONFIG when set, otherwise from
// config.yaml or configs/config.yaml. Only keys present in the file override
// defaults, so a file may set a boolean to false.
package config
