package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/djlord-it/buildhook/internal/config"
	"github.com/djlord-it/buildhook/internal/domain"
	"github.com/djlord-it/buildhook/internal/hasher"
)

// contentExport is the offline content format read by fingerprint and
// import. JSON exports parse as well since YAML is a superset.
type contentExport struct {
	Items []contentRecord `yaml:"items"`
}

type contentRecord struct {
	ID         string `yaml:"id"`
	Type       string `yaml:"type"`
	Title      string `yaml:"title"`
	Body       string `yaml:"body"`
	Status     string `yaml:"status"`
	ModifiedAt string `yaml:"modified_at"`
}

func parseContentExport(r io.Reader) ([]domain.ContentItem, error) {
	var export contentExport
	if err := yaml.NewDecoder(r).Decode(&export); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode content export: %w", err)
	}

	items := make([]domain.ContentItem, 0, len(export.Items))
	seen := make(map[string]bool, len(export.Items))
	for i, rec := range export.Items {
		if rec.ID == "" {
			return nil, fmt.Errorf("item %d: id is required", i)
		}
		if seen[rec.ID] {
			return nil, fmt.Errorf("item %d: duplicate id %q", i, rec.ID)
		}
		seen[rec.ID] = true

		modified, err := time.Parse(time.RFC3339Nano, rec.ModifiedAt)
		if err != nil {
			return nil, fmt.Errorf("item %d (%s): invalid modified_at: %w", i, rec.ID, err)
		}

		item := domain.ContentItem{
			ID:         rec.ID,
			Type:       strings.ToLower(rec.Type),
			Title:      rec.Title,
			Body:       rec.Body,
			Status:     domain.ContentStatus(strings.ToLower(rec.Status)),
			ModifiedAt: modified.UTC(),
		}
		if item.Type == "" {
			item.Type = domain.ContentTypePost
		}
		if item.Status == "" {
			item.Status = domain.ContentStatusPublish
		}
		items = append(items, item)
	}
	return items, nil
}

func readContentExport(path string) ([]domain.ContentItem, error) {
	if path == "-" {
		return parseContentExport(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseContentExport(f)
}

// formatFingerprint renders a fingerprint with per-type counts in a stable order.
func formatFingerprint(fp domain.Fingerprint) string {
	types := make([]string, 0, len(fp.Counts))
	for t := range fp.Counts {
		types = append(types, t)
	}
	sort.Strings(types)

	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = fmt.Sprintf("%s=%d", t, fp.Counts[t])
	}

	var b strings.Builder
	fmt.Fprintf(&b, "hash:  %s\n", fp.Hash)
	fmt.Fprintf(&b, "items: %d", fp.ItemCount)
	if len(parts) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
	}
	b.WriteByte('\n')
	return b.String()
}

func runFingerprint(args []string) int {
	fs := flag.NewFlagSet("fingerprint", flag.ContinueOnError)
	path := fs.String("f", "", "content export file (YAML or JSON, - for stdin)")
	if err := fs.Parse(args); err != nil {
		return exitRuntimeError
	}
	if *path == "" {
		fmt.Fprintln(os.Stderr, "fingerprint: -f is required")
		return exitRuntimeError
	}

	items, err := readContentExport(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fingerprint: %v\n", err)
		return exitRuntimeError
	}

	fmt.Print(formatFingerprint(hasher.FingerprintItems(items)))
	return exitSuccess
}

// contentWriter is implemented by the SQL stores.
type contentWriter interface {
	PutContent(ctx context.Context, item domain.ContentItem) error
}

func runImport(args []string) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	path := fs.String("f", "", "content export file (YAML or JSON, - for stdin)")
	if err := fs.Parse(args); err != nil {
		return exitRuntimeError
	}
	if *path == "" {
		fmt.Fprintln(os.Stderr, "import: -f is required")
		return exitRuntimeError
	}

	cfg := config.Load()
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}
	if cfg.StoreDriver == config.DriverMemory {
		fmt.Fprintln(os.Stderr, "import: STORE_DRIVER=memory cannot hold imported content")
		return exitInvalidConfig
	}

	items, err := readContentExport(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "import: %v\n", err)
		return exitRuntimeError
	}

	st, err := openStorage(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "import: %v\n", err)
		return exitRuntimeError
	}
	defer st.close()

	writer, ok := st.store.(contentWriter)
	if !ok {
		fmt.Fprintf(os.Stderr, "import: store %s does not accept content\n", cfg.StoreDriver)
		return exitRuntimeError
	}

	ctx := context.Background()
	for _, item := range items {
		if err := writer.PutContent(ctx, item); err != nil {
			fmt.Fprintf(os.Stderr, "import: item %s: %v\n", item.ID, err)
			return exitRuntimeError
		}
	}

	fp, err := hasher.New(st.store).ComputeFingerprint(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "import: %v\n", err)
		return exitRuntimeError
	}

	fmt.Printf("imported %d items into %s\n", len(items), cfg.StoreDriver)
	fmt.Print(formatFingerprint(fp))
	return exitSuccess
}
