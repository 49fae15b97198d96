// Package cli handles discovery of the tune-sdk binary and construction of
// its command line and environment.
package cli
