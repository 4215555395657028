// Package config handles configuration loading for toolshell.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from TOOLSHELL_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/toolshell/config.yaml
//  3. ~/.config/toolshell/config.yaml
//
// A missing file is not an error; Default values apply. Files ending in .toml
// are read as TOML, anything else as YAML. Fields a file leaves out keep their
// default values.
//
// # Environment Variable Expansion
//
//	auth:
//	  jwt_secret: "${TOOLSHELL_JWT_SECRET}"
//
// # Sections
//
//	server:
//	  http_addr: "127.0.0.1:7777"
//	  rate_limit: 20          # requests/second, 0 disables
//	  rate_burst: 40
//
//	database:
//	  path: "/var/lib/toolshell/toolshell.db"  # default: $XDG_DATA_HOME/toolshell/toolshell.db
//
//	auth:
//	  jwt_secret: ""          # empty leaves the local API open
//
//	host:
//	  sandbox_dir: "/var/lib/toolshell/sandbox"
//	  network_timeout: "10s"
//	  allowed_hosts: ["is.gd"]
//	  notification_feed: 50
//	  requests_per_second: 2
//	  burst: 5
//
//	modules:
//	  manifest_dir: "./manifests"  # extra manifests validated for diagnostics
//	  watch: true                  # revalidate on change while serving
//
//	audit:
//	  enabled: true
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
