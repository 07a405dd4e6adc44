// Package utils provides shared helpers for the command line layer.
//
// # Filesystem Utilities
//
//   - FindProjectRoot: walks up directories to find the configuration file
//   - FormatPaths: formats file paths for human-readable output
//
// # System Utilities
//
//   - GetUsername: returns the current system username
//   - GetHostname: returns the system hostname
//
// # I/O Utilities
//
// Secret values are read from piped stdin or typed at a no-echo prompt;
// they are never staged in a temporary file:
//   - ReadStdin: reads all data from standard input
//   - ReadSecret: stdin when piped, otherwise a confirmed prompt
//
// # Terminal Utilities
//
//   - IsTerminal: reports whether stdin is a terminal
//   - ReadPassphrase, ReadPassphraseFromTTY: no-echo prompts
package utils
