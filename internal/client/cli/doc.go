// Package cli implements the famsync command line.
//
// Every command loads the configuration (defaults, config file, flags),
// opens the local store through app.New and closes it on return. "run"
// keeps the host loop going until interrupted; the other commands act on
// the local store once and exit.
package cli
