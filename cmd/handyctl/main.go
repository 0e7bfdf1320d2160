// handyctl manages the keyword replacements handy expands.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"handy/internal/config"
	"handy/internal/logging"
	"handy/internal/store"
)

var (
	configPath = flag.String("config", "", "path to config file")
	dbPath     = flag.String("db", "", "path to the settings database (overrides config)")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		usage()
		return
	}
	if _, ok := commands[cmd]; !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	path := config.ResolvePath(*configPath)
	cfg := loadConfig(path)
	st := openStore(cfg)
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	env := &env{ctx: ctx, cfg: cfg, configPath: path, store: st, out: os.Stdout, in: os.Stdin}
	if err := commands[cmd].run(env, args); err != nil {
		if u, ok := err.(usageError); ok {
			fmt.Fprintf(os.Stderr, "Usage: handyctl %s\n", string(u))
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `handyctl - Manage handy keyword replacements

Usage: handyctl [options] <command> [args]

Commands:
  list                              List keywords and their replacements
  add <keyword> <replacement>       Add a keyword
  edit <keyword> <new> <replacement>
                                    Rename a keyword and set its replacement
  delete <keyword>                  Delete a keyword
  enable                            Turn expansion on
  disable                           Turn expansion off
  import <file|->                   Merge keywords from a JSON document
  export [file|-]                   Write keywords to a JSON document
  status                            Show database status
  migrate [up|down]                 Apply pending migrations or roll back the last one
  init                              Write a default config file if none exists
  help                              Show this help message

Options:
  -config <path>  Path to config file (default: `+config.ConfigPath()+`)
  -db <path>      Path to the settings database`)
}

func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.Storage.Path = *dbPath
	}
	return cfg
}

func openStore(cfg *config.Config) *store.Store {
	st, err := store.Open(cfg.Storage.Path,
		store.WithLogger(logging.Discard()),
		store.WithBusyTimeout(time.Duration(cfg.Storage.BusyTimeoutMs)*time.Millisecond),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	return st
}
