// Package agentfix runs an autonomous reasoning session against a single
// build error: the model investigates the project through tools, then
// proposes file changes. Sessions are bounded by iteration and token budgets
// and can never touch dependency manifests.
package agentfix

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ngmend/ngmend/internal/llm"
	"github.com/ngmend/ngmend/internal/model"
)

// Session phases, in the order a healthy session moves through them.
const (
	phaseAnalyzing     = "analyzing"
	phaseInvestigating = "investigating"
	phaseReasoning     = "reasoning"
	phaseFixing        = "fixing"
	phaseVerifying     = "verifying"
	phaseComplete      = "complete"
	phaseFailed        = "failed"
)

// Config bounds one agent session.
type Config struct {
	MaxIterations   int           `json:"max_iterations"   mapstructure:"max_iterations"`
	MaxTokens       int           `json:"max_tokens"       mapstructure:"max_tokens"`
	ShellTimeout    time.Duration `json:"shell_timeout"    mapstructure:"shell_timeout"`
	ApplyConfidence float64       `json:"apply_confidence" mapstructure:"apply_confidence"`
	NoteConfidence  float64       `json:"note_confidence"  mapstructure:"note_confidence"`
}

func DefaultConfig() Config {
	return Config{
		MaxIterations:   8,
		MaxTokens:       60000,
		ShellTimeout:    30 * time.Second,
		ApplyConfidence: 0.9,
		NoteConfidence:  0.7,
	}
}

// Engine drives agent sessions. It satisfies the strategy fixer contract so
// the driver can hand it errors no deterministic strategy could repair.
type Engine struct {
	client        llm.Client
	cfg           Config
	root          string
	targetVersion string
	tools         *Toolbox
}

func NewEngine(client llm.Client, cfg Config, projectRoot, targetVersion string) *Engine {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultConfig().MaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	if cfg.ApplyConfidence <= 0 {
		cfg.ApplyConfidence = DefaultConfig().ApplyConfidence
	}
	if cfg.NoteConfidence <= 0 {
		cfg.NoteConfidence = DefaultConfig().NoteConfidence
	}
	return &Engine{
		client:        client,
		cfg:           cfg,
		root:          projectRoot,
		targetVersion: targetVersion,
		tools:         NewToolbox(projectRoot, cfg.ShellTimeout),
	}
}

// FixCode runs one bounded session for one error. A crash anywhere inside
// the session degrades to a manual-intervention result instead of taking the
// whole upgrade run down.
func (e *Engine) FixCode(ctx context.Context, buildErr model.BuildError, fileContent string) (res model.FixResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("file", buildErr.File).Msg("agent session panicked")
			res = model.FixResult{
				RequiresManual: true,
				Suggestion:     fmt.Sprintf("agent session crashed (%v); fix manually", r),
				FixedBy:        "agent",
			}
			err = nil
		}
	}()

	req := llm.FixRequest{
		Error:         buildErr,
		FileContent:   fileContent,
		TargetVersion: e.targetVersion,
		Constraints:   llm.DefaultConstraints,
	}
	if gerr := llm.ValidateRequest(req); gerr != nil {
		log.Warn().Err(gerr).Str("file", buildErr.File).Msg("agent request rejected by guardrail")
		return model.FixResult{
			RequiresManual: true,
			Suggestion:     "request rejected: " + gerr.Error(),
			FixedBy:        "agent",
		}, nil
	}

	s := &session{
		engine:   e,
		buildErr: buildErr,
		phase:    phaseAnalyzing,
	}
	return s.run(ctx, fileContent)
}

type session struct {
	engine     *Engine
	buildErr   model.BuildError
	phase      string
	iterations int
	tokens     int
	packages   []string
	messages   []llm.Message
}

func (s *session) transition(phase string) {
	log.Debug().Str("from", s.phase).Str("to", phase).Int("iterations", s.iterations).Int("tokens", s.tokens).Msg("agent phase")
	s.phase = phase
}

// overBudget is checked at every phase transition into reasoning.
func (s *session) overBudget() (string, bool) {
	cfg := s.engine.cfg
	if s.iterations >= cfg.MaxIterations {
		return fmt.Sprintf("iteration budget exhausted (%d)", cfg.MaxIterations), true
	}
	if s.tokens >= cfg.MaxTokens {
		return fmt.Sprintf("token budget exhausted (~%d)", s.tokens), true
	}
	return "", false
}

func (s *session) run(ctx context.Context, fileContent string) (model.FixResult, error) {
	e := s.engine

	// Packages named by dependency-directory paths in the error are the
	// first suspects; they seed the reasoning context.
	s.packages = extractPackages(s.buildErr.Message + "\n" + s.buildErr.File)

	// Signature scan before any reasoning. High confidence applies the fix
	// outright; medium confidence becomes a note for the model.
	var quickNote string
	if qf, ok := scanQuickFix(s.buildErr); ok {
		if qf.Confidence >= e.cfg.ApplyConfidence {
			if res, err := synthesizeRemoval(e.root, qf.Package, qf, e.tools); err == nil {
				s.transition(phaseComplete)
				res.FixedBy = "agent"
				return res, nil
			}
		}
		if qf.Confidence >= e.cfg.NoteConfidence {
			quickNote = qf.Note
		}
	}

	s.transition(phaseInvestigating)
	if fileContent == "" && s.buildErr.File != "" {
		out, err := e.tools.readFile(map[string]any{"path": s.buildErr.File})
		if err == nil {
			fileContent = out
		}
	}

	s.messages = append(s.messages, llm.Message{Role: llm.RoleUser, Content: s.openingPrompt(fileContent, quickNote)})

	for {
		if reason, over := s.overBudget(); over {
			s.transition(phaseFailed)
			log.Warn().Str("reason", reason).Str("file", s.buildErr.File).Msg("agent session out of budget")
			return model.FixResult{
				RequiresManual: true,
				Suggestion:     "agent " + reason + "; fix manually",
				FixedBy:        "agent",
			}, nil
		}
		s.transition(phaseReasoning)
		s.iterations++

		reply, err := s.complete(ctx)
		if err != nil {
			s.transition(phaseFailed)
			return model.FixResult{}, fmt.Errorf("agent reasoning: %w", err)
		}
		s.messages = append(s.messages, llm.Message{Role: llm.RoleAssistant, Content: reply})

		calls := parseToolCalls(reply)
		if proposal, ok := findProposal(calls); ok {
			s.transition(phaseFixing)
			res, err := s.acceptProposal(proposal)
			if err != nil {
				// Send the rejection back; the model gets another try within
				// its remaining budget.
				s.messages = append(s.messages, llm.Message{Role: llm.RoleUser, Content: "proposal rejected: " + err.Error()})
				continue
			}
			s.transition(phaseComplete)
			return res, nil
		}

		if len(calls) == 0 {
			s.messages = append(s.messages, llm.Message{Role: llm.RoleUser,
				Content: "No tool call found. Use the TOOL({json}) syntax, or finish with propose_changes."})
			continue
		}

		results := e.tools.ExecuteAll(ctx, calls)
		s.messages = append(s.messages, llm.Message{Role: llm.RoleUser, Content: renderResults(results)})
	}
}

func (s *session) complete(ctx context.Context) (string, error) {
	var raw string
	err := llm.Retry(ctx, llm.DefaultRetryPolicy(), func(ctx context.Context) error {
		var callErr error
		raw, callErr = s.engine.client.Complete(ctx, agentSystemPrompt, s.messages)
		return callErr
	})
	if err != nil {
		return "", err
	}
	s.tokens += llm.EstimateTokens(s.messages[len(s.messages)-1].Content) + llm.EstimateTokens(raw)
	return raw, nil
}

func findProposal(calls []ToolCall) (ToolCall, bool) {
	for _, c := range calls {
		if c.Name == "propose_changes" {
			return c, true
		}
	}
	return ToolCall{}, false
}

// acceptProposal verifies a propose_changes call before it becomes a fix.
// The proposal goes through the same guardrails as a single-shot fix reply.
func (s *session) acceptProposal(call ToolCall) (model.FixResult, error) {
	s.transition(phaseVerifying)

	payload, err := json.Marshal(call.Args)
	if err != nil {
		return model.FixResult{}, fmt.Errorf("encode proposal: %w", err)
	}
	if err := llm.ValidateResponseShape(string(payload)); err != nil {
		return model.FixResult{}, err
	}
	var p struct {
		llm.FixResponse
		Suggestion string `json:"suggestion"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return model.FixResult{}, fmt.Errorf("decode proposal: %w", err)
	}
	if err := llm.ValidateResponse(p.FixResponse); err != nil {
		return model.FixResult{}, err
	}
	for _, c := range p.Changes {
		if strings.Contains(c.Path, model.NodeModulesMarker) {
			return model.FixResult{}, fmt.Errorf("change targets dependency code %s", c.Path)
		}
	}

	if !p.Success {
		return model.FixResult{
			RequiresManual: true,
			Reasoning:      p.Reasoning,
			Suggestion:     p.Suggestion,
			FixedBy:        "agent",
		}, nil
	}
	return model.FixResult{
		Success:    true,
		Changes:    p.Changes,
		Reasoning:  p.Reasoning,
		Confidence: p.Confidence,
		Suggestion: p.Suggestion,
		FixedBy:    "agent",
	}, nil
}

func renderResults(results []ToolExecutionResult) string {
	var b strings.Builder
	for _, r := range results {
		if r.Failed() {
			fmt.Fprintf(&b, "[%s] failed: %s\n", r.Name, r.Err)
			continue
		}
		fmt.Fprintf(&b, "[%s]\n%s\n", r.Name, r.Output)
	}
	return b.String()
}

const agentSystemPrompt = `You repair one build error in an Angular project that is being upgraded to a new major version.

Investigate with tools, then finish with exactly one propose_changes call.
Tool syntax: TOOL_NAME({"arg": "value"}) on its own line. Available tools:

read_file({"path": "src/app/x.ts", "start": 1, "end": 40})
search_code({"pattern": "regex", "glob": "*.ts"})
list_files({"dir": "src/app", "glob": "*.ts"})
run_command({"command": "npx tsc --noEmit"})
check_package({"name": "rxjs"})
analyze_runtime_error({"message": "the runtime error text"})
propose_changes({"success": true, "reasoning": "...", "confidence": 0.8, "changes": [{"path": "src/app/x.ts", "kind": "modify", "replacements": [{"search": "exact old text", "replace": "new text"}]}]})

Rules:
- Prefer search/replace pairs; quote search text exactly as it appears in the file.
- Never modify package.json or any lockfile.
- Never edit files under node_modules/.
- If the error cannot be fixed safely, propose_changes with success false and a suggestion.`

func (s *session) openingPrompt(fileContent, quickNote string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Build error (%s) while upgrading to Angular %s:\n%s\n", s.buildErr.Category, s.engine.targetVersion, s.buildErr.Message)
	if s.buildErr.File != "" {
		fmt.Fprintf(&b, "Location: %s:%d:%d\n", s.buildErr.File, s.buildErr.Line, s.buildErr.Column)
	}
	if len(s.packages) > 0 {
		fmt.Fprintf(&b, "Packages implicated by the error: %s\n", strings.Join(s.packages, ", "))
	}
	if quickNote != "" {
		fmt.Fprintf(&b, "\nNote: %s\n", quickNote)
	}
	if fileContent != "" {
		fmt.Fprintf(&b, "\nFile content:\n```\n%s\n```\n", fileContent)
	}
	b.WriteString("\nConstraints:\n")
	for _, c := range llm.DefaultConstraints {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	return b.String()
}

var nodeModulesPkgRe = regexp.MustCompile(`node_modules/((?:@[\w.-]+/)?[\w.-]+)`)

// extractPackages lists the package names that follow a dependency-directory
// marker in the error text, in first-mention order.
func extractPackages(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range nodeModulesPkgRe.FindAllStringSubmatch(text, -1) {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		out = append(out, m[1])
	}
	return out
}
