// Package cli is responsible for the command-line interface of the
// application. It builds the cobra command tree, merges the optional run file
// with the flags into a validated app.Config, and maps failures to exit codes.
package cli
