// Package model defines the shared value types passed between the build-fix
// loop, the fix strategies and the agent engine.
package model

// Category classifies a build error by the subsystem that produced it.
type Category string

const (
	CategoryCompilation Category = "compilation"
	CategoryTypescript  Category = "typescript"
	CategoryTemplate    Category = "template"
	CategoryImport      Category = "import"
	CategoryDependency  Category = "dependency"
	CategoryRouter      Category = "router"
	CategoryRxjs        Category = "rxjs"
	CategoryStandalone  Category = "standalone"
	CategorySSR         Category = "ssr"
	CategoryUnknown     Category = "unknown"
)

// Severity ranks how blocking an error is.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// BuildError is one classified error from a single build attempt. Instances
// are immutable after classification; they live only for the attempt that
// produced them, except inside cache keys and the final report.
type BuildError struct {
	Category Category `json:"category"`
	Message  string   `json:"message"`
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
	Severity Severity `json:"severity"`
}

// ChangeKind describes how a FileChange affects its target.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "create"
	ChangeModify ChangeKind = "modify"
	ChangeDelete ChangeKind = "delete"
)

// ReplacePair is one exact-text substitution inside a file.
type ReplacePair struct {
	Search  string `json:"search"`
	Replace string `json:"replace"`
}

// FileChange is a proposed edit to one file. When Replacements is non-empty
// it takes precedence over Content; full-content replacement is the legacy
// path and is applied only when explicitly marked.
type FileChange struct {
	Path         string        `json:"path"`
	Kind         ChangeKind    `json:"kind"`
	Replacements []ReplacePair `json:"replacements,omitempty"`
	Content      string        `json:"content,omitempty"`
	FullReplace  bool          `json:"full_replace,omitempty"`
}

// FixResult is the outcome of exactly one fix attempt (strategy, schematic
// or agent) for one BuildError.
type FixResult struct {
	Success        bool         `json:"success"`
	Changes        []FileChange `json:"changes,omitempty"`
	Reasoning      string       `json:"reasoning,omitempty"`
	Confidence     float64      `json:"confidence,omitempty"`
	RequiresManual bool         `json:"requires_manual,omitempty"`
	Suggestion     string       `json:"suggestion,omitempty"`
	FixedBy        string       `json:"fixed_by,omitempty"`
}

// CacheStats counts response-cache activity for one session.
type CacheStats struct {
	Hits   int `json:"hits"`
	Misses int `json:"misses"`
}

// SessionResult is the driver's final output for one upgrade session.
type SessionResult struct {
	RunID          string       `json:"run_id"`
	Success        bool         `json:"success"`
	Attempts       int          `json:"attempts"`
	RolledBack     bool         `json:"rolled_back,omitempty"`
	ResolvedErrors []BuildError `json:"resolved_errors,omitempty"`
	Unresolved     []BuildError `json:"unresolved_errors,omitempty"`
	AppliedFixes   []FixResult  `json:"applied_fixes,omitempty"`
	CacheStats     CacheStats   `json:"cache_stats"`
}

// NodeModulesMarker is the path fragment identifying third-party dependency
// code. Errors located under it are never auto-patched.
const NodeModulesMarker = "node_modules/"
