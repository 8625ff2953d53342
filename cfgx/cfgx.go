// Package cfgx parses configuration into a struct from multiple sources in a
// predictable precedence order.
//
// Sources run from the lowest priority to the highest, so a later source
// overwrites what an earlier one set:
//
//	flags (100) > docker secrets (75) > environment (50) > .env file (40) > TOML file (25) > defaults (0)
//
// Struct tags customize field names and validation rules.
package cfgx

import (
	"cmp"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"reflect"
	"runtime/debug"
	"slices"
	"strings"
)

const (
	tagEnv         = "env"
	tagFlag        = "flag"
	tagDefault     = "default"
	tagDescription = "desc"     // Description for help messages
	tagOptional    = "optional" // Mark field as optional
	tagShort       = "short"    // Short flag in addition
	tagTOML        = "toml"     // Dotted key in the TOML file

	tagDockerSecret = "dsec" // Optional
)

// Priorities of the bundled sources.
const (
	PriorityDefaults = 0
	PriorityTOML     = 25
	PriorityDotEnv   = 40
	PriorityEnv      = 50
	PrioritySecrets  = 75
	PriorityFlags    = 100
)

var (
	ErrNotPointerToStruct = errors.New("config must be a pointer to a struct")
)

// Source processes the configField map and applies values to the
// config struct. Choose a priority to process before or after other sources.
type Source interface {
	Priority() int
	Process(map[string]ConfigField) error
}

// Options holds options for the Parse function.
type Options struct {
	// ProgramName is the name of the running program (defaults to os.Args[0]).
	ProgramName string
	// EnvPrefix adds a prefix to environment variable lookups, including
	// the keys of the .env file.
	EnvPrefix string
	// ConfigFile is an optional TOML file. A missing file is ignored.
	ConfigFile string
	// DotEnvFile is an optional .env file. A missing file is ignored.
	DotEnvFile string
	// SkipFlags ignores command line flags.
	SkipFlags bool
	// SkipEnv ignores environment variables.
	SkipEnv bool
	// UseBuildInfo fills a top level Version field from the build info.
	UseBuildInfo bool
	// Args provides command line arguments (defaults to os.Args[1:]).
	Args []string
	// ErrorHandling determines how parsing errors are handled.
	ErrorHandling flag.ErrorHandling
	// Sources adds additional sources.
	Sources []Source
}

// Parse populates the config struct from different sources.
// It follows this priority order (highest to lowest):
//
// Command line arguments - 100,
// Environment variables - 50,
// .env file - 40 (if Options.DotEnvFile is set),
// TOML file - 25 (if Options.ConfigFile is set),
// Default values from struct tags - 0
//
// To add a source in order, choose a priority in between the
// included sources.
// Add a top level field named Version to read the build info
// into it (as of 1.24 it uses the git tag).
func Parse(cfg any, options Options) error {

	// Set default options and override if non-zero
	opts := setOptions(options)

	// Make sure it is pointer to struct
	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return handleError(opts.ErrorHandling, ErrNotPointerToStruct)
	}

	// Walk the struct and get map of paths with dot notation
	// Skips any fields that are already populated
	structMap := walkStruct(v.Elem(), "")

	sources := []Source{&defaultSource{priority: PriorityDefaults}}

	if opts.ConfigFile != "" {
		sources = append(sources, NewTOMLFileSource(opts.ConfigFile))
	}

	if opts.DotEnvFile != "" {
		dotenv := NewDotEnvSource(opts.DotEnvFile)
		dotenv.Prefix = opts.EnvPrefix
		sources = append(sources, dotenv)
	}

	if !opts.SkipEnv {
		sources = append(sources, &envSource{
			priority: PriorityEnv,
			prefix:   opts.EnvPrefix,
		})
	}

	if !opts.SkipFlags {
		sources = append(sources, &flagSource{
			priority: PriorityFlags,
			opts:     opts,
		})
	}

	sources = append(sources, opts.Sources...)

	// Set Version if exists in the structMap. Will be overridden
	// if it exists in other sources.
	if version, ok := structMap["Version"]; ok && opts.UseBuildInfo && version.Kind == reflect.String {
		ver := "(develop)"
		if bi, ok := debug.ReadBuildInfo(); ok {
			ver = cmp.Or(bi.Main.Version, ver)
		}
		version.Value.SetString(ver)
	}

	// Stable so equal priorities keep the order they were added in
	slices.SortStableFunc(sources, func(a, b Source) int {
		return cmp.Compare(a.Priority(), b.Priority())
	})

	var allErrs []error
	for _, source := range sources {
		if err := source.Process(structMap); err != nil {
			allErrs = append(allErrs, err)
		}
	}
	if len(allErrs) > 0 {
		return handleError(opts.ErrorHandling, &MultiError{allErrs})
	}

	// Validate the required
	if err := validateRequired(structMap); err != nil {
		return handleError(opts.ErrorHandling, fmt.Errorf("validation: %w", err))
	}

	return nil
}

// ConfigField represents a field in the config struct.
type ConfigField struct {
	Path        string
	Value       reflect.Value
	Kind        reflect.Kind
	Name        string
	StructField reflect.StructField
	Tag         reflect.StructTag
	Description string
}

// Gather map of ConfigFields
func walkStruct(v reflect.Value, currPath string) map[string]ConfigField {
	fields := map[string]ConfigField{}

	t := v.Type()

	for i := range v.NumField() {
		fieldVal := v.Field(i)
		structField := t.Field(i)
		name := structField.Name
		kind := fieldVal.Kind()
		tag := structField.Tag

		// Unexported fields cannot be set
		if !structField.IsExported() {
			continue
		}

		// Skip fields already filled
		if !fieldVal.IsZero() {
			continue
		}

		path := name
		if currPath != "" {
			path = strings.Join([]string{currPath, name}, ".")
		}

		// Recursive for structs
		if kind == reflect.Struct {
			maps.Copy(fields, walkStruct(fieldVal, path))
			continue
		}
		desc := cmp.Or(tag.Get(tagDescription), path)

		fields[path] = ConfigField{
			Path: path, Value: fieldVal, Kind: kind, Name: name, StructField: structField, Tag: tag, Description: desc}
	}
	return fields
}

// Error if required fields are missing
func validateRequired(fields map[string]ConfigField) error {
	var allErrs []error

	// Sorted so the message is stable
	for _, path := range slices.Sorted(maps.Keys(fields)) {
		field := fields[path]

		reqVal, exists := field.Tag.Lookup(tagOptional)
		if exists && reqVal != "false" {
			continue
		}

		if field.Value.IsZero() {
			allErrs = append(allErrs, fmt.Errorf("%s is required", path))
		}
	}

	if len(allErrs) > 0 {
		return &MultiError{allErrs}
	}
	return nil
}

// Handle the errors depending on the strategy
func handleError(errHandling flag.ErrorHandling, err error) error {
	if errHandling == flag.ExitOnError {
		slog.Error("Error parsing config struct.", "error", err)
		os.Exit(1)
	}
	if errHandling == flag.PanicOnError {
		panic(err)
	}

	return err
}
