// Package app wires application dependencies for the CLI.
//
// It loads Config through viper, opens the configured storage backend, seals
// it with the passphrase and builds the services on top, exposing them via the
// Wire struct for commands to use.
package app
