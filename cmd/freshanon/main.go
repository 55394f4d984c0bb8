package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"freshanon/internal/di"
	"freshanon/internal/structures"
)

func main() {
	flags := &structures.CliFlags{}
	pflag.StringVarP(&flags.ConfigPath, "config", "c", "config.yml", "path to the YAML config file")
	pflag.BoolVarP(&flags.DebugMode, "debug", "d", false, "mirror logs to the console")
	pflag.Parse()

	if _, err := di.InitApp(flags); err != nil {
		fmt.Fprintf(os.Stderr, "freshanon: %s\n", err)
		os.Exit(1)
	}
}
