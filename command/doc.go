// Package command adapts the mutating dispatch operations to go-command
// commanders so they can be registered on a dispatcher or exposed through
// CLI and cron adapters.
package command
