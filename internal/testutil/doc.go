// Package testutil provides fixtures shared by package tests: an in-process
// directory service, a call-counting relay wrapper and ready-made devices.
package testutil
