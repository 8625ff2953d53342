package cfgx_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/erlorenz/go-broadcast/cfgx"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

type brokerConfig struct {
	Channel string `default:"events"`
	Port    int    `default:"5000"`
	Broker  struct {
		Kind    string        `default:"memory"`
		URL     string        `optional:"true"`
		Timeout time.Duration `default:"5s" toml:"broker.connect_timeout"`
	}
	Logging struct {
		Level string `default:"info"`
	}
}

func TestTOMLFileSource(t *testing.T) {
	path := writeFile(t, "config.toml", `
port = 7000

[broker]
kind = "redis"
url = "redis://localhost:6379/0"
connect_timeout = "250ms"

[logging]
level = "warn"
`)

	var cfg brokerConfig
	err := cfgx.Parse(&cfg, cfgx.Options{SkipFlags: true, SkipEnv: true, ConfigFile: path})
	if err != nil {
		t.Fatal(err)
	}

	if want := 7000; cfg.Port != want {
		t.Errorf("Port: wanted %d, got %d", want, cfg.Port)
	}
	if want := "events"; cfg.Channel != want {
		t.Errorf("Channel: wanted %s, got %s", want, cfg.Channel)
	}
	if want := "redis"; cfg.Broker.Kind != want {
		t.Errorf("Broker.Kind: wanted %s, got %s", want, cfg.Broker.Kind)
	}
	if want := "redis://localhost:6379/0"; cfg.Broker.URL != want {
		t.Errorf("Broker.URL: wanted %s, got %s", want, cfg.Broker.URL)
	}
	if want := 250 * time.Millisecond; cfg.Broker.Timeout != want {
		t.Errorf("Broker.Timeout: wanted %s, got %s", want, cfg.Broker.Timeout)
	}
	if want := "warn"; cfg.Logging.Level != want {
		t.Errorf("Logging.Level: wanted %s, got %s", want, cfg.Logging.Level)
	}
}

func TestTOMLFileSource_Missing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.toml")

	t.Run("Optional", func(t *testing.T) {
		var cfg brokerConfig
		err := cfgx.Parse(&cfg, cfgx.Options{SkipFlags: true, SkipEnv: true, ConfigFile: missing})
		if err != nil {
			t.Fatal(err)
		}
		if want := 5000; cfg.Port != want {
			t.Errorf("Port: wanted %d, got %d", want, cfg.Port)
		}
	})

	t.Run("Required", func(t *testing.T) {
		src := cfgx.NewTOMLFileSource(missing)
		src.Required = true

		var cfg brokerConfig
		err := cfgx.Parse(&cfg, cfgx.Options{SkipFlags: true, SkipEnv: true, Sources: []cfgx.Source{src}})
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("wanted os.ErrNotExist, got %v", err)
		}
	})
}

func TestTOMLFileSource_Invalid(t *testing.T) {
	path := writeFile(t, "config.toml", "port = = 1")

	var cfg brokerConfig
	err := cfgx.Parse(&cfg, cfgx.Options{SkipFlags: true, SkipEnv: true, ConfigFile: path})
	if err == nil {
		t.Fatal("wanted parse error, got nil")
	}
}

func TestDotEnvSource(t *testing.T) {
	path := writeFile(t, ".env", `
# comment
APP_PORT=8000
APP_BROKER_KIND=postgres
APP_BROKER_URL="postgres://localhost:5432/app"
`)

	var cfg brokerConfig
	err := cfgx.Parse(&cfg, cfgx.Options{SkipFlags: true, SkipEnv: true, EnvPrefix: "APP", DotEnvFile: path})
	if err != nil {
		t.Fatal(err)
	}

	if want := 8000; cfg.Port != want {
		t.Errorf("Port: wanted %d, got %d", want, cfg.Port)
	}
	if want := "postgres"; cfg.Broker.Kind != want {
		t.Errorf("Broker.Kind: wanted %s, got %s", want, cfg.Broker.Kind)
	}
	if want := "postgres://localhost:5432/app"; cfg.Broker.URL != want {
		t.Errorf("Broker.URL: wanted %s, got %s", want, cfg.Broker.URL)
	}
	if _, ok := os.LookupEnv("APP_PORT"); ok {
		t.Error("dotenv must not modify the process environment")
	}
}

func TestPrecedence(t *testing.T) {
	tomlPath := writeFile(t, "config.toml", "port = 7000\n[logging]\nlevel = \"warn\"\n[broker]\nkind = \"redis\"\n")
	envPath := writeFile(t, ".env", "PORT=8000\nLOGGING_LEVEL=error\n")

	t.Setenv("PORT", "9000")

	var cfg brokerConfig
	err := cfgx.Parse(&cfg, cfgx.Options{
		ConfigFile: tomlPath,
		DotEnvFile: envPath,
		Args:       []string{"-port=9001"},
	})
	if err != nil {
		t.Fatal(err)
	}

	// flags > env > dotenv > toml > default
	if want := 9001; cfg.Port != want {
		t.Errorf("Port: wanted %d, got %d", want, cfg.Port)
	}
	if want := "error"; cfg.Logging.Level != want {
		t.Errorf("Logging.Level: wanted %s, got %s", want, cfg.Logging.Level)
	}
	if want := "redis"; cfg.Broker.Kind != want {
		t.Errorf("Broker.Kind: wanted %s, got %s", want, cfg.Broker.Kind)
	}
	if want := "events"; cfg.Channel != want {
		t.Errorf("Channel: wanted %s, got %s", want, cfg.Channel)
	}
}

func TestSourceErrors(t *testing.T) {
	t.Run("BadDefault", func(t *testing.T) {
		var cfg struct {
			Port int `default:"abc"`
		}

		err := cfgx.Parse(&cfg, cfgx.Options{SkipFlags: true, SkipEnv: true})

		var merr *cfgx.MultiError
		if !errors.As(err, &merr) {
			t.Fatalf("wanted *cfgx.MultiError, got %v", err)
		}
	})

	t.Run("BadEnv", func(t *testing.T) {
		t.Setenv("TIMEOUT", "soon")

		var cfg struct {
			Timeout time.Duration `default:"1s"`
		}

		err := cfgx.Parse(&cfg, cfgx.Options{SkipFlags: true})
		if err == nil {
			t.Fatal("wanted duration error, got nil")
		}
	})

	t.Run("UnknownFlag", func(t *testing.T) {
		var cfg struct {
			Port int `default:"1"`
		}

		err := cfgx.Parse(&cfg, cfgx.Options{SkipEnv: true, Args: []string{"-nope"}})
		if err == nil {
			t.Fatal("wanted flag error, got nil")
		}
	})
}

func TestDockerSecretsSource(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broker_url"), []byte("redis://secret:6379/0\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	src := cfgx.NewDockerSecretsSource()
	src.SecretsPath = dir

	var cfg brokerConfig
	err := cfgx.Parse(&cfg, cfgx.Options{SkipFlags: true, SkipEnv: true, Sources: []cfgx.Source{src}})
	if err != nil {
		t.Fatal(err)
	}

	if want := "redis://secret:6379/0"; cfg.Broker.URL != want {
		t.Errorf("Broker.URL: wanted %s, got %s", want, cfg.Broker.URL)
	}

	t.Run("MissingDir", func(t *testing.T) {
		src := cfgx.NewDockerSecretsSource()
		src.SecretsPath = filepath.Join(dir, "missing")

		var cfg brokerConfig
		err := cfgx.Parse(&cfg, cfgx.Options{SkipFlags: true, SkipEnv: true, Sources: []cfgx.Source{src}})
		if err != nil {
			t.Fatal(err)
		}
	})
}
