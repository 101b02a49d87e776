// Kingidy is a study-assistant chat service that answers student messages
// through the configured completion backend.
package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "configs/kingidy.yaml", "path to config file")
	envFile := flag.String("env", ".env", "dotenv file loaded before the config")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("kingidy", version)
		os.Exit(0)
	}

	if err := run(*configPath, *envFile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
