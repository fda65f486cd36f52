// Command directory runs the in-memory key directory and room-key service
// used for local development.
//
// Usage:
//
//	directory --listen 127.0.0.1:8080
package main
