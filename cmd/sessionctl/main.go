// Command sessionctl administers users and sessions directly against the
// database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/charleshuang3/authsession/internal/app"
	"github.com/charleshuang3/authsession/internal/config"
)

var (
	configPath = flag.String("c", os.Getenv("CONFIG_PATH"), "Path to configuration file")
	verbose    = flag.Bool("v", false, "Verbose logging")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: sessionctl [-c config.yaml] <command> [args]

Commands:
  useradd <username> <email>     create a user, password is read from the terminal
  issue <user>                   open a session without a password
  sessions <user>                list active sessions
  revoke <user> <session-id>...  revoke the given sessions
  revoke-all <user>              revoke every session of the user
  audit [-n limit] <user>        show recent audit events
  sweep [-retention-days n]      delete old refresh tokens now

<user> is a username or an email.
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if *configPath == "" {
		log.Fatal().Msg("Config path must be provided via CONFIG_PATH env var or -c flag")
	}
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	if !*verbose {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := config.LoadConfig(*configPath)

	a, err := app.New(cfg, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}

	cli := &cli{app: a, out: os.Stdout, readPassword: readPasswordFromTerminal}
	err = cli.run(context.Background(), flag.Args())
	a.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
