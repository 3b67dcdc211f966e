package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tobert/render-trace/internal/otlpexport"
	"github.com/tobert/render-trace/internal/sink"
)

// OtelCollectorConfig represents the relevant parts of an OpenTelemetry Collector config.
// We only parse the exporters section to find file exporters.
type OtelCollectorConfig struct {
	Exporters map[string]FileExporter `yaml:"exporters"`
}

// FileExporter represents a file exporter configuration.
type FileExporter struct {
	Path string `yaml:"path"`
}

// ParseOtelConfig reads an OpenTelemetry Collector config file and returns
// the paths written by its file exporters (exporters named "file" or
// "file/<name>"), sorted.
func ParseOtelConfig(configPath string) ([]string, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read otel config: %w", err)
	}

	var config OtelCollectorConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse otel config: %w", err)
	}

	var paths []string
	for name, exporter := range config.Exporters {
		if (name == "file" || strings.HasPrefix(name, "file/")) && exporter.Path != "" {
			path := exporter.Path
			if !filepath.IsAbs(path) {
				path = filepath.Join(filepath.Dir(configPath), path)
			}
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)

	return paths, nil
}

// importOtelConfig loads the render traces found in the file exporter
// outputs of a collector config. Missing files are skipped; the collector
// may not have written them yet.
func importOtelConfig(ctx context.Context, configPath string, pub sink.Publisher) (int, error) {
	paths, err := ParseOtelConfig(configPath)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, path := range paths {
		f, err := os.Open(path)
		if os.IsNotExist(err) {
			log.Printf("⚠️  %s does not exist yet, skipping\n", path)
			continue
		}
		if err != nil {
			return total, fmt.Errorf("failed to open %s: %w", path, err)
		}
		spans, err := otlpexport.ReadJSONL(f)
		f.Close()
		if err != nil {
			return total, fmt.Errorf("%s: %w", path, err)
		}
		for _, r := range otlpexport.FromResourceSpans(spans) {
			if err := pub.Publish(ctx, r); err != nil {
				return total, fmt.Errorf("failed to import report %s: %w", r.ID, err)
			}
			total++
		}
	}
	return total, nil
}
