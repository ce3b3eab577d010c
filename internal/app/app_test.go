package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docs-archiver/internal/app"
	"github.com/JakeFAU/docs-archiver/internal/config"
	memorypub "github.com/JakeFAU/docs-archiver/internal/publisher/memory"
	memstore "github.com/JakeFAU/docs-archiver/internal/storage/memory"
	"github.com/JakeFAU/docs-archiver/internal/store"
)

// baseConfig builds a configuration that wires only in-process backends so
// tests never touch a browser, a database, or the network.
func baseConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Server: config.ServerConfig{Enabled: true, Port: 8080},
		Crawler: config.CrawlerConfig{
			EntryPoints:    []config.EntryPoint{{URL: "https://docs.example.com/guide", Section: "Guide"}},
			Concurrency:    2,
			UserAgent:      "docs-archiver-test",
			NavTimeout:     time.Second,
			MaxTaskHistory: 10,
		},
		Admission: config.AdmissionConfig{AllowedDomains: []string{"docs.example.com"}},
		Headless:  config.HeadlessConfig{Enabled: false},
		Discover:  config.DiscoverConfig{Timeout: time.Second},
		State:     config.StateConfig{Dir: t.TempDir()},
		Output:    config.OutputConfig{Formats: []string{"markdown"}, Provider: "memory"},
		Metadata:  config.MetadataConfig{Backend: "file"},
		Publisher: config.PublisherConfig{Provider: "memory"},
		Logging:   config.LoggingConfig{Development: true},
	}
}

// The prometheus sink registers against the process-wide default registry,
// so exactly one test may construct the container successfully. The error
// cases below all fail before telemetry is wired.
func TestNewWiresConfiguredBackends(t *testing.T) {
	cfg := baseConfig(t)

	a, err := app.New(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, a)

	require.NotNil(t, a.GetLogger())
	require.NotNil(t, a.GetState())
	require.NotNil(t, a.GetQueue())
	require.NotNil(t, a.GetServer())
	require.Nil(t, a.GetEngine())

	require.IsType(t, &memstore.Store{}, a.GetStorage())
	require.IsType(t, &store.FileStore{}, a.GetMetadata())
	require.IsType(t, &memorypub.Publisher{}, a.GetPublisher())

	require.Equal(t, "docs-archiver-test", a.GetConfig().Crawler.UserAgent)

	a.Close()
}

func TestNewConfigErrors(t *testing.T) {
	testCases := []struct {
		name          string
		mutate        func(cfg *config.Config)
		expectedError string
	}{
		{
			name: "unknown output provider",
			mutate: func(cfg *config.Config) {
				cfg.Output.Provider = "s3"
			},
			expectedError: "unknown output provider: s3",
		},
		{
			name: "local storage without a directory",
			mutate: func(cfg *config.Config) {
				cfg.Output.Provider = "local"
				cfg.Output.Dir = ""
			},
			expectedError: "init local storage",
		},
		{
			name: "unknown metadata backend",
			mutate: func(cfg *config.Config) {
				cfg.Metadata.Backend = "dynamo"
			},
			expectedError: "unknown metadata backend: dynamo",
		},
		{
			name: "unknown publisher provider",
			mutate: func(cfg *config.Config) {
				cfg.Publisher.Provider = "kafka"
			},
			expectedError: "unknown publisher provider: kafka",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig(t)
			tc.mutate(&cfg)

			_, err := app.New(context.Background(), cfg)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.expectedError)
		})
	}
}
