// Package loop implements the build-fix driver: build the project, classify
// what broke, route each error through the fix chain, rebuild, and stop on
// success, exhaustion or regression rollback.
package loop

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ngmend/ngmend/internal/buildtool"
	"github.com/ngmend/ngmend/internal/classify"
	"github.com/ngmend/ngmend/internal/db"
	"github.com/ngmend/ngmend/internal/fixcache"
	"github.com/ngmend/ngmend/internal/model"
	"github.com/ngmend/ngmend/internal/patch"
	"github.com/ngmend/ngmend/internal/schematic"
	"github.com/ngmend/ngmend/internal/strategy"
)

// Builder runs the project build and the optional test suite.
type Builder interface {
	Build(ctx context.Context) (buildtool.Result, error)
	Test(ctx context.Context) (buildtool.Result, error)
}

// SchematicRunner runs allow-listed migrations, at most once each.
type SchematicRunner interface {
	Used(s schematic.Schematic) bool
	Run(ctx context.Context, s schematic.Schematic) (model.FixResult, error)
}

// FixCache stores agent responses keyed by error signature.
type FixCache interface {
	Get(key string) (model.FixResult, bool)
	Put(key string, buildErr model.BuildError, context string, result model.FixResult)
	Stats() model.CacheStats
}

// Recorder persists the session to the state database. It may be nil.
type Recorder interface {
	CreateRun(ctx context.Context, runID, projectDir, targetVersion string) error
	CommitAttempt(ctx context.Context, rec db.AttemptRecord, fixes []db.FixRecord, events []db.Event) error
	FinishRun(ctx context.Context, runID, status string, rolledBack bool, cache model.CacheStats) error
}

// Config bounds one driver session.
type Config struct {
	MaxAttempts         int `json:"max_attempts" mapstructure:"max_attempts"`
	RegressionThreshold int `json:"regression_threshold" mapstructure:"regression_threshold"`
}

func DefaultConfig() Config {
	return Config{MaxAttempts: 5, RegressionThreshold: 2}
}

// Driver owns one upgrade session over one project.
type Driver struct {
	cfg           Config
	root          string
	targetVersion string

	builder    Builder
	registry   *strategy.Registry
	schematics SchematicRunner
	cache      FixCache
	agent      strategy.CodeFixer
	recorder   Recorder
}

func NewDriver(cfg Config, projectRoot, targetVersion string, builder Builder, schematics SchematicRunner, cache FixCache, agent strategy.CodeFixer, recorder Recorder) *Driver {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.RegressionThreshold <= 0 {
		cfg.RegressionThreshold = DefaultConfig().RegressionThreshold
	}
	return &Driver{
		cfg:           cfg,
		root:          projectRoot,
		targetVersion: targetVersion,
		builder:       builder,
		registry:      strategy.NewRegistry(),
		schematics:    schematics,
		cache:         cache,
		agent:         agent,
		recorder:      recorder,
	}
}

// Run executes the session to completion. The returned result is valid even
// when err is non-nil, so callers can report partial progress.
func (d *Driver) Run(ctx context.Context) (model.SessionResult, error) {
	runID, err := newRunID()
	if err != nil {
		return model.SessionResult{}, fmt.Errorf("generate run id: %w", err)
	}
	result := model.SessionResult{RunID: runID}

	if d.recorder != nil {
		if err := d.recorder.CreateRun(ctx, runID, d.root, d.targetVersion); err != nil {
			return result, fmt.Errorf("record run: %w", err)
		}
	}
	log.Info().Str("run_id", runID).Str("target", d.targetVersion).Msg("upgrade session started")

	backups := NewBackupSet(d.root)
	fixer := d.fixerChain()
	sctx := strategy.Context{ProjectRoot: d.root, TargetVersion: d.targetVersion, Fixer: fixer}

	prevCount := -1
	regressions := 0

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		result.Attempts = attempt
		started := time.Now().UTC()

		build, err := d.builder.Build(ctx)
		if err != nil {
			d.finish(ctx, &result, "failed")
			return result, fmt.Errorf("attempt %d build: %w", attempt, err)
		}
		if build.Success {
			test, err := d.builder.Test(ctx)
			if err != nil {
				d.finish(ctx, &result, "failed")
				return result, fmt.Errorf("attempt %d tests: %w", attempt, err)
			}
			if test.Success {
				result.Success = true
				d.recordAttempt(ctx, runID, attempt, started, 0, true, nil, nil)
				d.finish(ctx, &result, "succeeded")
				log.Info().Str("run_id", runID).Int("attempt", attempt).Msg("build is clean")
				return result, nil
			}
			log.Info().Int("attempt", attempt).Msg("build is clean but tests failed, fixing test errors")
			build = test
		}

		errors := classify.Classify(build.Output)
		actionable, deferred, notices := partition(errors)
		count := len(actionable)
		log.Info().Int("attempt", attempt).Int("errors", count).Int("deferred", len(deferred)).Msg("build failed, classifying")

		if len(deferred) > 0 {
			log.Warn().Int("count", len(deferred)).Msg("errors originate in node_modules; likely package compatibility issues, resolve dependencies manually")
			result.Unresolved = appendUnique(result.Unresolved, deferred)
		}
		noticeRecords := d.recordNotices(ctx, notices, sctx, &result, attempt)

		// Regression tracking: a growing error count means fixes are making
		// things worse. Two growths in a row trigger a full rollback.
		if prevCount >= 0 {
			switch {
			case count > prevCount:
				regressions++
				log.Warn().Int("previous", prevCount).Int("current", count).Int("strikes", regressions).Msg("error count regressed")
			case count < prevCount:
				regressions = 0
			}
		}
		prevCount = count

		if regressions >= d.cfg.RegressionThreshold {
			d.rollback(ctx, &result, backups, runID)
			return result, nil
		}

		if count == 0 {
			// Build failed but produced nothing actionable (for example only
			// dependency-internal errors). Nothing left to fix automatically.
			d.recordAttempt(ctx, runID, attempt, started, 0, false, noticeRecords, nil)
			d.finish(ctx, &result, "failed")
			return result, nil
		}

		fixesApplied, fixRecords := d.fixAll(ctx, actionable, sctx, backups, &result, attempt)

		d.recordAttempt(ctx, runID, attempt, started, count, false, append(noticeRecords, fixRecords...), nil)

		if fixesApplied == 0 {
			log.Warn().Int("attempt", attempt).Msg("no fixes could be applied, stopping")
			result.Unresolved = appendUnique(result.Unresolved, actionable)
			d.finish(ctx, &result, "failed")
			return result, nil
		}
	}

	log.Warn().Int("attempts", d.cfg.MaxAttempts).Msg("attempt budget exhausted")
	d.finish(ctx, &result, "exhausted")
	return result, nil
}

// fixAll routes every actionable error through the fix chain and applies the
// resulting changes, backing files up first.
func (d *Driver) fixAll(ctx context.Context, errors []model.BuildError, sctx strategy.Context, backups *BackupSet, result *model.SessionResult, attempt int) (int, []db.FixRecord) {
	applied := 0
	var records []db.FixRecord

	for _, buildErr := range errors {
		res := d.registry.ApplyFix(ctx, buildErr, sctx)
		if !res.Success && sctx.Fixer != nil && !chainConsulted(res.FixedBy) {
			if esc, ok := d.escalate(ctx, buildErr, sctx.Fixer); ok {
				res = esc
			}
		}
		result.AppliedFixes = append(result.AppliedFixes, res)
		records = append(records, toFixRecord(attempt, buildErr, res))

		if !res.Success {
			if res.RequiresManual {
				log.Info().Str("file", buildErr.File).Str("suggestion", res.Suggestion).Msg("manual intervention required")
			}
			result.Unresolved = appendUnique(result.Unresolved, []model.BuildError{buildErr})
			continue
		}

		if len(res.Changes) == 0 {
			if strings.HasPrefix(res.FixedBy, "schematic:") {
				// The schematic edited the workspace itself; the rebuild
				// decides whether it worked.
				applied++
				result.ResolvedErrors = appendUnique(result.ResolvedErrors, []model.BuildError{buildErr})
				continue
			}
			// Advisory success, e.g. an install suggestion. Nothing changed
			// on disk, so this is not progress.
			if res.Suggestion != "" {
				log.Info().Str("suggestion", res.Suggestion).Msg("manual step suggested")
			}
			result.Unresolved = appendUnique(result.Unresolved, []model.BuildError{buildErr})
			continue
		}

		for _, change := range res.Changes {
			if err := backups.Record(change.Path); err != nil {
				log.Error().Err(err).Str("file", change.Path).Msg("backup failed, skipping fix")
				continue
			}
		}
		applier := patch.NewApplier(d.root)
		n, err := applier.Apply(res.Changes)
		if err != nil {
			log.Error().Err(err).Str("file", buildErr.File).Msg("patch application failed")
			result.Unresolved = appendUnique(result.Unresolved, []model.BuildError{buildErr})
			continue
		}
		if n > 0 {
			applied++
			result.ResolvedErrors = appendUnique(result.ResolvedErrors, []model.BuildError{buildErr})
		}
	}
	return applied, records
}

// escalate hands a strategy-declined error to the schematic, cache and agent
// chain before it is given up as unresolved. First successful result wins.
func (d *Driver) escalate(ctx context.Context, buildErr model.BuildError, fixer strategy.CodeFixer) (model.FixResult, bool) {
	content := ""
	if buildErr.File != "" {
		if data, err := os.ReadFile(filepath.Join(d.root, filepath.FromSlash(buildErr.File))); err == nil {
			content = string(data)
		}
	}
	res, err := fixer.FixCode(ctx, buildErr, content)
	if err != nil {
		log.Warn().Err(err).Str("file", buildErr.File).Msg("fix chain escalation failed")
		return model.FixResult{}, false
	}
	if !res.Success {
		return model.FixResult{}, false
	}
	log.Debug().Str("fixed_by", res.FixedBy).Str("file", buildErr.File).Msg("strategy declined, fix chain produced a result")
	return res, true
}

// chainConsulted reports whether a result already came out of the schematic,
// cache or agent chain; escalating those again would repeat the same work.
func chainConsulted(fixedBy string) bool {
	return fixedBy == "unknown" || fixedBy == "agent" || strings.HasPrefix(fixedBy, "schematic:")
}

// recordNotices runs informational compiler notices through the registry so
// they show up in the report, without counting them as fixable errors.
func (d *Driver) recordNotices(ctx context.Context, notices []model.BuildError, sctx strategy.Context, result *model.SessionResult, attempt int) []db.FixRecord {
	var records []db.FixRecord
	for _, n := range notices {
		res := d.registry.ApplyFix(ctx, n, sctx)
		result.AppliedFixes = append(result.AppliedFixes, res)
		records = append(records, toFixRecord(attempt, n, res))
	}
	return records
}

// rollback restores every backed-up file and runs one final build so the
// user knows the baseline still holds.
func (d *Driver) rollback(ctx context.Context, result *model.SessionResult, backups *BackupSet, runID string) {
	log.Warn().Int("files", backups.Len()).Msg("regression threshold reached, rolling back all changes")
	restored, err := backups.RestoreAll()
	if err != nil {
		log.Error().Err(err).Msg("rollback incomplete")
	}
	result.RolledBack = true
	result.ResolvedErrors = nil

	if build, err := d.builder.Build(ctx); err == nil {
		log.Info().Bool("baseline_builds", build.Success).Int("restored", restored).Msg("post-rollback build finished")
	}
	d.finish(ctx, result, "rolled_back")
}

// fixerChain is the non-deterministic tail of the fix chain: allow-listed
// schematics first, then the response cache, then a live agent session.
func (d *Driver) fixerChain() strategy.CodeFixer {
	var chain strategy.CodeFixer = d.agent
	if d.cache != nil {
		chain = &cachedFixer{cache: d.cache, next: chain}
	}
	if d.schematics != nil {
		chain = &schematicFixer{runner: d.schematics, next: chain}
	}
	return chain
}

type schematicFixer struct {
	runner SchematicRunner
	next   strategy.CodeFixer
}

func (f *schematicFixer) FixCode(ctx context.Context, buildErr model.BuildError, fileContent string) (model.FixResult, error) {
	if s, ok := schematic.Match(buildErr); ok && !f.runner.Used(s) {
		res, err := f.runner.Run(ctx, s)
		if err == nil {
			return res, nil
		}
		log.Warn().Err(err).Str("schematic", s.Name).Msg("schematic failed, falling through")
	}
	if f.next == nil {
		return model.FixResult{RequiresManual: true, Suggestion: "no reasoning backend configured; resolve this error manually"}, nil
	}
	return f.next.FixCode(ctx, buildErr, fileContent)
}

type cachedFixer struct {
	cache FixCache
	next  strategy.CodeFixer
}

func (f *cachedFixer) FixCode(ctx context.Context, buildErr model.BuildError, fileContent string) (model.FixResult, error) {
	key := fixcache.Key(buildErr, fileContent)
	if res, ok := f.cache.Get(key); ok {
		log.Debug().Str("file", buildErr.File).Msg("fix served from cache")
		return res, nil
	}
	if f.next == nil {
		return model.FixResult{RequiresManual: true, Suggestion: "no reasoning backend configured; resolve this error manually"}, nil
	}
	res, err := f.next.FixCode(ctx, buildErr, fileContent)
	if err == nil && res.Success {
		f.cache.Put(key, buildErr, fileContent, res)
	}
	return res, err
}

// partition splits classified errors into actionable ones, those located
// inside node_modules (never auto-patched), and informational compiler
// notices.
func partition(errors []model.BuildError) (actionable, deferred, notices []model.BuildError) {
	for _, e := range errors {
		switch {
		case e.Severity == model.SeverityInfo && e.Category == model.CategoryCompilation:
			notices = append(notices, e)
		case e.Severity != model.SeverityError:
			continue
		case strings.Contains(e.File, model.NodeModulesMarker) || strings.Contains(e.Message, model.NodeModulesMarker):
			deferred = append(deferred, e)
		default:
			actionable = append(actionable, e)
		}
	}
	return actionable, deferred, notices
}

func appendUnique(dst []model.BuildError, src []model.BuildError) []model.BuildError {
	seen := make(map[string]bool, len(dst))
	for _, e := range dst {
		seen[errKey(e)] = true
	}
	for _, e := range src {
		if !seen[errKey(e)] {
			seen[errKey(e)] = true
			dst = append(dst, e)
		}
	}
	return dst
}

func errKey(e model.BuildError) string {
	return fmt.Sprintf("%s|%s|%d|%s", e.Category, e.File, e.Line, e.Message)
}

func toFixRecord(attempt int, buildErr model.BuildError, res model.FixResult) db.FixRecord {
	return db.FixRecord{
		Attempt:        attempt,
		Category:       string(buildErr.Category),
		File:           buildErr.File,
		Line:           buildErr.Line,
		Message:        buildErr.Message,
		FixedBy:        res.FixedBy,
		Success:        res.Success,
		Confidence:     res.Confidence,
		RequiresManual: res.RequiresManual,
		Suggestion:     res.Suggestion,
	}
}

func (d *Driver) recordAttempt(ctx context.Context, runID string, attempt int, started time.Time, errorCount int, success bool, fixes []db.FixRecord, events []db.Event) {
	if d.recorder == nil {
		return
	}
	rec := db.AttemptRecord{
		RunID:        runID,
		Attempt:      attempt,
		StartedAt:    started.Format(time.RFC3339),
		EndedAt:      time.Now().UTC().Format(time.RFC3339),
		ErrorCount:   errorCount,
		BuildSuccess: success,
	}
	if err := d.recorder.CommitAttempt(ctx, rec, fixes, events); err != nil {
		log.Error().Err(err).Int("attempt", attempt).Msg("persist attempt failed")
	}
}

func (d *Driver) finish(ctx context.Context, result *model.SessionResult, status string) {
	if d.cache != nil {
		result.CacheStats = d.cache.Stats()
	}
	if d.recorder == nil {
		return
	}
	if err := d.recorder.FinishRun(ctx, result.RunID, status, result.RolledBack, result.CacheStats); err != nil {
		log.Error().Err(err).Msg("persist run result failed")
	}
}

func newRunID() (string, error) {
	suffix, err := randomHex(3)
	if err != nil {
		return "", err
	}
	ts := time.Now().UTC().Format("20060102-150405")
	return fmt.Sprintf("%s-%s", ts, suffix), nil
}

func randomHex(bytesLen int) (string, error) {
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

