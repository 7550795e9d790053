package cli

import (
	"flag"
	"os"
)

// Flags holds the command line. A nil field means the flag was not given, so
// the config file value or its default applies.
type Flags struct {
	ConfigFileName *string
	SchemaFileName *string
	LogFileName    *string
	StateFileName  *string
	Errors         *bool
	Ui             *bool
	RenderConfig   *bool
	Documents      []string
}

func GetFlags() Flags {
	flags, _ := ParseFlags(flag.CommandLine, os.Args[1:])
	return flags
}

func ParseFlags(fs *flag.FlagSet, args []string) (Flags, error) {
	configFileName := fs.String("c", "", "YAML config file (default none)")
	schemaFileName := fs.String("s", "", "JSON schema file")
	errors := fs.Bool("e", false, "print validation errors (default false)")
	logFileName := fs.String("l", "jsonlatch.log", "log file")
	renderConfig := fs.Bool("r", false, "render config and exit (default false)")
	stateFileName := fs.String("S", "", "latch state file (default none)")
	ui := fs.Bool("u", false, "show results in a terminal table (default false)")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	set := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = struct{}{}
	})
	given := func(name string) bool {
		_, ok := set[name]
		return ok
	}

	flags := Flags{
		ConfigFileName: configFileName,
		RenderConfig:   renderConfig,
		Documents:      fs.Args(),
	}
	if given("s") {
		flags.SchemaFileName = schemaFileName
	}
	if given("e") {
		flags.Errors = errors
	}
	if given("l") {
		flags.LogFileName = logFileName
	}
	if given("S") {
		flags.StateFileName = stateFileName
	}
	if given("u") {
		flags.Ui = ui
	}
	return flags, nil
}
