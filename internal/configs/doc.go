// Package configs loads tool configuration.
//
// Settings come from, in increasing priority:
//
//  1. Built-in defaults
//  2. nixos-secrets.toml in the project root (found by walking up from the
//     working directory), the working directory or the user config dir
//  3. NIXOS_SECRETS_* environment variables, e.g. NIXOS_SECRETS_STORE_DIR
//  4. Command line flags
//
// A configuration file looks like:
//
//	[store]
//	dir = "secrets"
//
//	[manifest]
//	path = "secrets.toml"
//
//	[keyring]
//	engine = "age"
//	public_dir = "keys/public"
//	private_dir = "~/.local/share/nixos-secrets/keys"
//	passphrase_env = "NIXOS_SECRETS_PASSPHRASE"
//
//	[rekey]
//	workers = 4
//	orphans = "report"
//
// Relative paths are resolved against the directory of the configuration
// file, or the project root when no file was found.
package configs
