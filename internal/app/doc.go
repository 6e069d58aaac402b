// Package app contains the core application logic. It defines the main App
// struct, its configuration, and the run lifecycle that loads the inputs,
// resolves every variable and writes the outputs, decoupled from any specific
// entrypoint like a CLI.
package app
