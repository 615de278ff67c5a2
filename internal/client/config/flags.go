package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/nodesync/internal/flagx"
)

var ownFlags = []string{"-a", "-d", "-l", "-c", "-config", "--config"}

// Flags returns the flags consumed by Load.
func Flags() []string {
	return append([]string(nil), ownFlags...)
}

// parseFlags overlays cfg with -a, -d and -l. Other arguments are ignored.
func parseFlags(cfg *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-a", "-d", "-l"})

	fs := flag.NewFlagSet("nodesync", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.ServerAddr, "a", cfg.ServerAddr, "address and port of the sync server")
	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "path of the local database")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")

	return fs.Parse(args)
}
