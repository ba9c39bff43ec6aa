package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/famsync/internal/flagx"
)

// parseFlags populates Config fields from command-line flags.
//
// Supported flags:
//
//	-a string   gRPC bind address (e.g. ":50051")
//	-w string   admin HTTP bind address (e.g. ":8080")
//	-d string   PostgreSQL DSN; empty keeps records in memory
//	-s string   token HMAC secret key
//	-t int      minted token validity, minutes
//	-m string   print an access token for this user id at startup
//	-l string   log level
//	-f string   log format (text or json)
//
// Arguments other than these are filtered out first with flagx.FilterArgs
// so the config file flag can share the command line.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-a", "-w", "-d", "-s", "-t", "-m", "-l", "-f"})

	fs := flag.NewFlagSet("authority", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port of the gRPC service")
	fs.StringVar(&config.EndpointAddrHTTP, "w", config.EndpointAddrHTTP, "address and port of the admin HTTP server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	validity := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "minted token validity (in minutes)")
	fs.StringVar(&config.MintTokenFor, "m", config.MintTokenFor, "print an access token for this user id")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.LogFormat, "f", config.LogFormat, "log format")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "t" {
			config.AccessTokenValidityDuration = time.Duration(*validity) * time.Minute
		}
	})
	return nil
}
