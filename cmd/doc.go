// Package cmd implements the exchange-bridge command line interface.
package cmd
