// Package commands defines the cipherroom CLI and wires dependencies for subcommands.
//
// Commands
//
//   - init            Create and publish the device identity
//   - fingerprint     Print the identity fingerprint
//   - prekeys refresh Top up and republish one-time pre-keys
//   - start-session   Establish sessions with every device of a user
//   - room rotate     Distribute a new room key version
//   - room version    Print the active room key version
//   - encrypt         Encrypt a room message, printed as JSON
//   - decrypt         Decrypt JSON messages read line by line from stdin
//
// # Implementation
//
// Flags, environment (CIPHERROOM_*) and $HOME/.cipherroom/config.yaml are
// merged through viper. The root command builds the dependency graph before
// any subcommand runs and closes the store afterwards.
package commands
