package bundle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/openfroyo/stackmgr/pkg/engine"
	"github.com/openfroyo/stackmgr/pkg/stack"
	"github.com/openfroyo/stackmgr/pkg/staging"
	"github.com/openfroyo/stackmgr/pkg/telemetry"
)

// ADCMHash names the bundle directory of the built-in ADCM definition.
const ADCMHash = "adcm"

// Config holds the loader settings.
type Config struct {
	// BundleDir is the content-addressed store of extracted bundles.
	BundleDir string

	// DownloadDir is where relative bundle file names are looked up.
	DownloadDir string

	// ServerVersion is checked against adcm_min_version.
	ServerVersion string

	AllowDuplicateKeys bool
}

// Loader compiles bundle archives into the catalog.
type Loader struct {
	store    engine.CatalogStore
	events   engine.EventPoster
	admitter Admitter
	cfg      Config
	logger   zerolog.Logger

	area  *staging.Area
	token chan struct{}
}

// NewLoader creates a loader. events and admitter may be nil.
func NewLoader(store engine.CatalogStore, events engine.EventPoster, admitter Admitter, cfg Config, logger zerolog.Logger) *Loader {
	if events == nil {
		events = engine.NopEventPoster{}
	}
	if admitter == nil {
		admitter = AdmitAll{}
	}
	return &Loader{
		store:    store,
		events:   events,
		admitter: admitter,
		cfg:      cfg,
		logger:   logger.With().Str("component", "bundle-loader").Logger(),
		area:     staging.NewArea(),
		token:    make(chan struct{}, 1),
	}
}

func (l *Loader) bundlePath(file string) string {
	if filepath.IsAbs(file) || l.cfg.DownloadDir == "" {
		return file
	}
	return filepath.Join(l.cfg.DownloadDir, file)
}

// LoadBundle stages, checks and commits the bundle archive file.
func (l *Loader) LoadBundle(ctx context.Context, file string) (*engine.Bundle, error) {
	var bundle *engine.Bundle
	err := telemetry.RecordBundleOperation(ctx, "load", func(ctx context.Context) error {
		var err error
		bundle, err = l.loadBundle(ctx, file)
		return err
	})
	return bundle, err
}

func (l *Loader) loadBundle(ctx context.Context, file string) (*engine.Bundle, error) {
	path := l.bundlePath(file)
	name := filepath.Base(path)
	l.logger.Info().Str("file", path).Msg("Loading bundle")

	session, err := l.NewSession()
	if err != nil {
		return nil, err
	}
	defer session.Close()

	hash, err := FileHash(path)
	if err != nil {
		return nil, err
	}
	dir, err := l.untar(ctx, path, hash)
	if err != nil {
		return nil, err
	}

	proto, err := l.compile(ctx, session.Area(), dir, name, hash)
	if err != nil {
		l.removeDir(dir)
		return nil, err
	}

	var bundle *engine.Bundle
	err = l.store.InTx(ctx, func(tx engine.CatalogTx) error {
		b, err := copyStage(ctx, tx, session.Area(), hash, proto)
		if err != nil {
			return err
		}
		bundle = b
		return OrderVersions(ctx, tx)
	})
	if err != nil {
		l.removeDir(dir)
		if errors.Is(err, engine.ErrAlreadyExists) {
			return nil, engine.Errorf(engine.ErrCodeBundle, "Bundle %q %s already installed", proto.Name, proto.Version)
		}
		return nil, engine.NewError(engine.ErrCodeInternal, "failed to commit bundle").Wrap(err)
	}

	l.logger.Info().
		Int64("bundle_id", bundle.ID).
		Str("name", bundle.Name).
		Str("version", bundle.Version).
		Str("hash", hash).
		Msg("Bundle loaded")
	l.events.PostEvent(ctx, "create", "bundle", bundle.ID, nil)
	return bundle, nil
}

// compile stages the bundle directory and runs every check that precedes
// the commit.
func (l *Loader) compile(ctx context.Context, area *staging.Area, dir, name, hash string) (*engine.Prototype, error) {
	parser := stack.NewParser(area, dir, stack.Options{AllowDuplicateKeys: l.cfg.AllowDuplicateKeys}, l.logger)
	if err := parser.Load(); err != nil {
		return nil, err
	}
	proto, err := StageBundle(area, name, l.cfg.ServerVersion)
	if err != nil {
		return nil, err
	}
	if err := CheckReferences(area); err != nil {
		return nil, err
	}
	if err := l.admitter.Admit(ctx, BuildManifest(area, name, hash, proto)); err != nil {
		if engine.CodeOf(err) != "" {
			return nil, err
		}
		return nil, engine.Errorf(engine.ErrCodeBundlePolicy, "Bundle %q rejected by admission policy", name).Wrap(err)
	}
	return proto, nil
}

// untar extracts the archive into the directory named by its hash. A
// directory that no catalog bundle owns is replaced.
func (l *Loader) untar(ctx context.Context, path, hash string) (string, error) {
	dir := filepath.Join(l.cfg.BundleDir, hash)
	if _, err := os.Stat(dir); err == nil {
		existing, err := l.store.FindBundleByHash(ctx, hash)
		switch {
		case err == nil:
			return "", engine.Errorf(engine.ErrCodeBundle, "Bundle already exists. Name: %s, version: %s, edition: %s",
				existing.Name, existing.Version, existing.Edition)
		case !errors.Is(err, engine.ErrNotFound):
			return "", engine.NewError(engine.ErrCodeInternal, "failed to look up bundle").Wrap(err)
		}
		l.logger.Warn().Str("dir", dir).Msg("Directory already exists and does not belong to any bundle, overwriting")
		if err := os.RemoveAll(dir); err != nil {
			return "", fmt.Errorf("failed to remove stale bundle directory: %w", err)
		}
	}
	if err := Extract(path, dir); err != nil {
		l.removeDir(dir)
		return "", err
	}
	return dir, nil
}

func (l *Loader) removeDir(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		l.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to remove bundle directory")
	}
}

// UpdateBundle re-reads the extracted directory of an installed bundle and
// refreshes its catalog definitions.
func (l *Loader) UpdateBundle(ctx context.Context, id int64) (*engine.Bundle, error) {
	var bundle *engine.Bundle
	err := telemetry.RecordBundleOperation(ctx, "update", func(ctx context.Context) error {
		var err error
		bundle, err = l.updateBundle(ctx, id)
		return err
	})
	return bundle, err
}

func (l *Loader) updateBundle(ctx context.Context, id int64) (*engine.Bundle, error) {
	b, err := l.store.GetBundle(ctx, id)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return nil, engine.Errorf(engine.ErrCodeBundleNotFound, "Bundle #%d does not exist", id)
		}
		return nil, err
	}

	if b.Hash == ADCMHash {
		return nil, engine.Errorf(engine.ErrCodeBundle, "Bundle #%d is the ADCM definition, load it with adcm load", id)
	}

	session, err := l.NewSession()
	if err != nil {
		return nil, err
	}
	defer session.Close()
	area := session.Area()

	dir := filepath.Join(l.cfg.BundleDir, b.Hash)
	parser := stack.NewParser(area, dir, stack.Options{AllowDuplicateKeys: l.cfg.AllowDuplicateKeys}, l.logger)
	if err := parser.Load(); err != nil {
		return nil, err
	}
	proto, err := StageBundle(area, b.Name, l.cfg.ServerVersion)
	if err != nil {
		return nil, err
	}
	if err := CheckReferences(area); err != nil {
		return nil, err
	}

	err = l.store.InTx(ctx, func(tx engine.CatalogTx) error {
		if err := updateFromStage(ctx, tx, area, b, proto); err != nil {
			return err
		}
		return OrderVersions(ctx, tx)
	})
	if err != nil {
		return nil, engine.NewError(engine.ErrCodeInternal, "failed to update bundle").Wrap(err)
	}

	l.logger.Info().Int64("bundle_id", b.ID).Str("name", b.Name).Str("version", b.Version).Msg("Bundle updated")
	l.events.PostEvent(ctx, "update", "bundle", b.ID, nil)
	return b, nil
}

// CheckBundle parses and validates a bundle archive or directory without
// touching the catalog or the loader session.
func (l *Loader) CheckBundle(ctx context.Context, path string) (*Manifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, engine.Errorf(engine.ErrCodeBundle, "Can't find bundle file: %s", path)
	}

	dir := path
	hash := ""
	if !info.IsDir() {
		if hash, err = FileHash(path); err != nil {
			return nil, err
		}
		tmp, err := os.MkdirTemp("", "stackmgr-check-")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp directory: %w", err)
		}
		defer os.RemoveAll(tmp)
		if err := Extract(path, tmp); err != nil {
			return nil, err
		}
		dir = tmp
	}

	area := staging.NewArea()
	parser := stack.NewParser(area, dir, stack.Options{AllowDuplicateKeys: l.cfg.AllowDuplicateKeys}, l.logger)
	if err := parser.Load(); err != nil {
		return nil, err
	}
	name := filepath.Base(path)
	proto, err := StageBundle(area, name, l.cfg.ServerVersion)
	if err != nil {
		return nil, err
	}
	if err := CheckReferences(area); err != nil {
		return nil, err
	}
	manifest := BuildManifest(area, name, hash, proto)
	if err := l.admitter.Admit(ctx, manifest); err != nil {
		return nil, err
	}
	return manifest, nil
}
