// Package migrations exposes the provider's embedded SQL schema to whatever
// migration runner the host application uses. The module ships one schema tree
// per supported dialect: postgres files at the root of data/sql/migrations and
// sqlite variants under data/sql/migrations/sqlite.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	oauthprovider "github.com/goliatone/go-oauth-provider"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// defaultSourceLabel identifies this module when the host runner tracks
// migration provenance per source.
const defaultSourceLabel = "go-oauth-provider"

// Source pairs a dialect with the filesystem holding its migration files.
type Source struct {
	Dialect string
	Path    string
	FS      fs.FS
}

// RegisterFunc receives one dialect's migration filesystem. Implementations
// typically hand fsys straight to the host's SQL migration runner.
type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

// Registration records what Register handed to the runner.
type Registration struct {
	SourceLabel string
	Dialects    []string
	Sources     []Source
}

type config struct {
	label    string
	dialects []string
	sources  []Source
}

type Option func(*config)

// WithSourceLabel overrides the label reported to the runner for every
// registered dialect.
func WithSourceLabel(label string) Option {
	return func(c *config) {
		if trimmed := strings.TrimSpace(label); trimmed != "" {
			c.label = trimmed
		}
	}
}

// WithValidationTargets limits registration to the named dialects. Register
// fails if any named dialect has no source.
func WithValidationTargets(dialects ...string) Option {
	return func(c *config) {
		if normalized := normalizeDialects(dialects); len(normalized) > 0 {
			c.dialects = normalized
		}
	}
}

// WithSources replaces the embedded schema with caller-provided sources, for
// hosts that maintain their own copy of the provider tables.
func WithSources(sources ...Source) Option {
	return func(c *config) {
		kept := make([]Source, 0, len(sources))
		for _, src := range sources {
			src.Dialect = strings.TrimSpace(strings.ToLower(src.Dialect))
			if src.Dialect == "" || src.FS == nil {
				continue
			}
			kept = append(kept, src)
		}
		if len(kept) > 0 {
			c.sources = kept
		}
	}
}

// Register hands each target dialect's migration filesystem to registerFn.
// With no options it registers the embedded postgres and sqlite schemas.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	if registerFn == nil {
		return Registration{}, fmt.Errorf("migrations: register function is required")
	}

	cfg := config{
		label:    defaultSourceLabel,
		dialects: []string{DialectPostgres, DialectSQLite},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	if len(cfg.sources) == 0 {
		sources, err := EmbeddedSources()
		if err != nil {
			return Registration{}, err
		}
		cfg.sources = sources
	}

	reg := Registration{SourceLabel: cfg.label}
	for _, dialect := range cfg.dialects {
		src, ok := sourceFor(cfg.sources, dialect)
		if !ok {
			return reg, fmt.Errorf("migrations: no source for dialect %q", dialect)
		}
		if err := registerFn(ctx, src.Dialect, cfg.label, src.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s (%s): %w", src.Dialect, src.Path, err)
		}
		reg.Dialects = append(reg.Dialects, src.Dialect)
		reg.Sources = append(reg.Sources, src)
	}

	return reg, nil
}

// EmbeddedSources lists the migration filesystems bundled with the module,
// one per dialect, each verified to contain at least one *.up.sql file.
func EmbeddedSources() ([]Source, error) {
	tree, err := fs.Sub(oauthprovider.GetCoreMigrationsFS(), "data/sql/migrations")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve embedded tree: %w", err)
	}
	sqliteFS, err := fs.Sub(tree, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite tree: %w", err)
	}

	sources := []Source{
		{Dialect: DialectPostgres, Path: "data/sql/migrations", FS: tree},
		{Dialect: DialectSQLite, Path: "data/sql/migrations/sqlite", FS: sqliteFS},
	}
	for _, src := range sources {
		if err := checkUpMigrations(src); err != nil {
			return nil, err
		}
	}
	return sources, nil
}

func checkUpMigrations(src Source) error {
	matches, err := fs.Glob(src.FS, "*.up.sql")
	if err != nil {
		return fmt.Errorf("migrations: glob %s %s: %w", src.Dialect, src.Path, err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("migrations: %s source %q has no *.up.sql files", src.Dialect, src.Path)
	}
	return nil
}

func sourceFor(sources []Source, dialect string) (Source, bool) {
	want := strings.TrimSpace(strings.ToLower(dialect))
	for _, src := range sources {
		if src.Dialect == want {
			return src, true
		}
	}
	return Source{}, false
}

func normalizeDialects(dialects []string) []string {
	seen := make(map[string]struct{}, len(dialects))
	out := make([]string, 0, len(dialects))
	for _, dialect := range dialects {
		trimmed := strings.TrimSpace(strings.ToLower(dialect))
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
