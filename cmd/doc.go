// Package cmd implements the command-line interface for mailgrant.
//
// This package provides the following commands:
//   - serve: Start the HTTP service
//   - keygen: Generate a credential encryption key
//   - version: Display version information
package cmd
