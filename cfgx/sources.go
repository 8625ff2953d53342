package cfgx

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/erlorenz/go-broadcast/cfgx/internal/casing"
)

const (
	dockerPath    = "/run/secrets"
	maxSecretSize = 1 << 20 // 1MB - max size for secret files
)

var durationType = reflect.TypeOf(time.Duration(0))

// setValue parses raw according to the field's kind and assigns it.
func setValue(field ConfigField, raw string) error {
	// time.Duration is an int64 alias
	if field.Value.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("cannot parse duration %s: %w", field.Path, err)
		}
		field.Value.Set(reflect.ValueOf(d))
		return nil
	}

	switch field.Kind {
	case reflect.String:
		field.Value.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Value.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot set %s: %w", field.Path, err)
		}
		field.Value.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, field.Value.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot set %s: %w", field.Path, err)
		}
		field.Value.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, field.Value.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot set %s: %w", field.Path, err)
		}
		field.Value.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("cannot set %s: %w", field.Path, err)
		}
		field.Value.SetBool(b)
	default:
		return fmt.Errorf("cannot set %s: unimplemented kind %s", field.Path, field.Kind)
	}
	return nil
}

// envName is the variable a field is read from: the env tag if present,
// otherwise the screaming snake case path with an optional prefix.
func envName(field ConfigField, prefix string) string {
	if tagVal, ok := field.Tag.Lookup(tagEnv); ok {
		return tagVal
	}
	name := casing.ToScreamingSnake(field.Path)
	if prefix != "" {
		name = prefix + "_" + name
	}
	return name
}

// lookupSource applies values found by lookup to every field it knows.
func lookupSource(fields map[string]ConfigField, lookup func(ConfigField) (string, bool)) error {
	var allErrs []error

	for _, field := range fields {
		raw, ok := lookup(field)
		if !ok {
			continue
		}
		if err := setValue(field, raw); err != nil {
			allErrs = append(allErrs, err)
		}
	}

	if len(allErrs) > 0 {
		return &MultiError{allErrs}
	}
	return nil
}

// Default ===================================================================
type defaultSource struct {
	priority int
}

func (s *defaultSource) Priority() int {
	return s.priority
}

func (s *defaultSource) Process(fields map[string]ConfigField) error {
	return lookupSource(fields, func(field ConfigField) (string, bool) {
		return field.Tag.Lookup(tagDefault)
	})
}

// Env ====================================================================
type envSource struct {
	priority int
	prefix   string
}

func (s *envSource) Priority() int {
	return s.priority
}

func (s *envSource) Process(fields map[string]ConfigField) error {
	return lookupSource(fields, func(field ConfigField) (string, bool) {
		return os.LookupEnv(envName(field, s.prefix))
	})
}

// Flag ===================================================================
type flagSource struct {
	priority int
	opts     Options
}

func (s *flagSource) Priority() int {
	return s.priority
}

// Process registers one flag per field, plus the short form from the "short"
// tag. Values are assigned as the flags are parsed.
func (s *flagSource) Process(fields map[string]ConfigField) error {
	flags := flag.NewFlagSet(s.opts.ProgramName, s.opts.ErrorHandling)

	for _, field := range fields {
		flagName := casing.ToKebab(field.Path)
		if tagVal, ok := field.Tag.Lookup(tagFlag); ok {
			flagName = tagVal
		}

		set := func(raw string) error { return setValue(field, raw) }
		names := []string{flagName}
		if short := field.Tag.Get(tagShort); short != "" {
			names = append(names, short)
		}

		for _, name := range names {
			if field.Kind == reflect.Bool {
				flags.BoolFunc(name, field.Description, set)
				continue
			}
			flags.Func(name, field.Description, set)
		}
	}

	if err := flags.Parse(s.opts.Args); err != nil {
		return fmt.Errorf("failed parsing flags: %w", err)
	}
	return nil
}

// TOML ===================================================================

// TOMLFileSource reads a TOML file. Keys are the snake case form of each
// part of the struct path, so Broker.URL is read from
//
//	[broker]
//	url = "redis://localhost:6379/0"
//
// Override the dotted key with the tag "toml".
type TOMLFileSource struct {
	PriorityLevel int
	Path          string
	// Required makes a missing file an error.
	Required bool
}

// NewTOMLFileSource sets a priority of PriorityTOML (25).
func NewTOMLFileSource(path string) *TOMLFileSource {
	return &TOMLFileSource{
		PriorityLevel: PriorityTOML,
		Path:          path,
	}
}

// Priority implements [Source].
func (s *TOMLFileSource) Priority() int {
	return s.PriorityLevel
}

// Process implements [Source].
func (s *TOMLFileSource) Process(fields map[string]ConfigField) error {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !s.Required {
			return nil
		}
		return fmt.Errorf("config load failed (%s): %w", s.Path, err)
	}

	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", s.Path, err)
	}

	return lookupSource(fields, func(field ConfigField) (string, bool) {
		keys := tomlKeys(field.Path)
		if tagVal, ok := field.Tag.Lookup(tagTOML); ok {
			keys = strings.Split(tagVal, ".")
		}
		return lookupTOML(doc, keys)
	})
}

// tomlKeys splits a struct path into its snake case table keys.
func tomlKeys(path string) []string {
	parts := strings.Split(path, ".")
	for i, part := range parts {
		parts[i] = casing.ToSnake(part)
	}
	return parts
}

// lookupTOML walks nested tables and returns a scalar as its string form.
func lookupTOML(doc map[string]any, keys []string) (string, bool) {
	var cur any = doc
	for _, k := range keys {
		table, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		if cur, ok = table[k]; !ok {
			return "", false
		}
	}

	switch v := cur.(type) {
	case map[string]any, []any, []map[string]any:
		return "", false
	case string:
		return v, true
	default:
		return fmt.Sprint(v), true
	}
}

// DotEnv =================================================================

// DotEnvSource reads KEY=VALUE pairs from a .env file without touching the
// process environment. Keys follow the same naming as environment variables,
// including the "env" tag and Prefix.
type DotEnvSource struct {
	PriorityLevel int
	Path          string
	Prefix        string
	// Required makes a missing file an error.
	Required bool
}

// NewDotEnvSource sets a priority of PriorityDotEnv (40).
func NewDotEnvSource(path string) *DotEnvSource {
	return &DotEnvSource{
		PriorityLevel: PriorityDotEnv,
		Path:          path,
	}
}

// Priority implements [Source].
func (s *DotEnvSource) Priority() int {
	return s.PriorityLevel
}

// Process implements [Source].
func (s *DotEnvSource) Process(fields map[string]ConfigField) error {
	values, err := godotenv.Read(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !s.Required {
			return nil
		}
		return fmt.Errorf("read dotenv %s: %w", s.Path, err)
	}

	return lookupSource(fields, func(field ConfigField) (string, bool) {
		v, ok := values[envName(field, s.Prefix)]
		return v, ok
	})
}

// ====================================================================
// Docker Secrets

// DockerSecretsSource wraps a [FileContentSource].
// It reads the docker secret file at “/run/secrets/<secret_name>“.
// It defaults to snake case based on the struct path.
// Override the name with the tag "dsec".
type DockerSecretsSource struct {
	SecretsPath string
	FileContentSource
}

// Process opens an [os.Root] and calls the underlying [FileContentSource]'s
// Process method with the [os.Root.FS]. A missing secrets directory means
// there is nothing to read.
func (s *DockerSecretsSource) Process(structMap map[string]ConfigField) error {
	root, err := os.OpenRoot(s.SecretsPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open docker path: %w", err)
	}
	defer root.Close()

	s.FileContentSource.FS = root.FS()
	return s.FileContentSource.Process(structMap)
}

// NewDockerSecretsSource sets a priority of PrioritySecrets (75), a tag of "dsec",
// and a secrets path of `/run/secrets`.
func NewDockerSecretsSource() *DockerSecretsSource {
	return &DockerSecretsSource{
		SecretsPath: dockerPath,
		FileContentSource: FileContentSource{
			PriorityLevel: PrioritySecrets,
			Tag:           tagDockerSecret,
			// Assign the fs.FS in the Process method so we can use os.Root.
		},
	}
}

// FileContentSource reads individual files.
// It can be used for any files that live in the same directory
// or have explicit file locations.
// Do not use this directly, use one of the
// implementations, e.g. DockerSecretsSource.
// This allows to use an [os.Root.FS] in the implementation's
// Process method.
type FileContentSource struct {
	PriorityLevel int
	Tag           string
	FS            fs.FS
}

// Priority implements [Source].
func (s *FileContentSource) Priority() int {
	return s.PriorityLevel
}

// Process implements [Source].
func (s *FileContentSource) Process(structMap map[string]ConfigField) error {
	if s.FS == nil {
		return fmt.Errorf("process SourceFileContent: fs.FS cannot be nil")
	}

	var readErrs []error

	err := lookupSource(structMap, func(field ConfigField) (string, bool) {
		name := casing.ToSnake(field.Path)
		if tagVal, ok := field.Tag.Lookup(s.Tag); ok {
			name = tagVal
		}

		b, err := readLimited(s.FS, name)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				readErrs = append(readErrs, err)
			}
			return "", false
		}
		return strings.TrimSpace(string(b)), true
	})
	if err != nil {
		readErrs = append(readErrs, err)
	}

	if len(readErrs) > 0 {
		return &MultiError{readErrs}
	}
	return nil
}

// readLimited reads one file, refusing anything over maxSecretSize.
func readLimited(fsys fs.FS, name string) ([]byte, error) {
	file, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	b, err := io.ReadAll(io.LimitReader(file, maxSecretSize+1))
	if err != nil {
		return nil, fmt.Errorf("cannot read file %s: %w", name, err)
	}
	if len(b) > maxSecretSize {
		return nil, fmt.Errorf("file %s exceeds max size of %d bytes", name, maxSecretSize)
	}
	return b, nil
}
