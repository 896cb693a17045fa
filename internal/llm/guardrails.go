package llm

import (
	_ "embed"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed response_schema.json
var responseSchemaJSON string

var versionQueryRe = regexp.MustCompile(`(?i)\b(what|which|latest|current)\s+version\b`)

// manifest files the backend must never touch
var protectedFiles = map[string]struct{}{
	"package.json":      {},
	"package-lock.json": {},
	"yarn.lock":         {},
	"pnpm-lock.yaml":    {},
}

// ValidateRequest rejects ambiguous requests before they reach a provider.
// Asking the model about versions directly invites hallucinated version
// numbers; the target version is always supplied as a fact instead.
func ValidateRequest(req FixRequest) error {
	if strings.TrimSpace(req.Error.Message) == "" {
		return fmt.Errorf("fix request carries an empty error message")
	}
	if req.TargetVersion == "" {
		return fmt.Errorf("fix request carries no target version")
	}
	if versionQueryRe.MatchString(req.Error.Message) {
		return fmt.Errorf("request asks the backend about versions directly")
	}
	for _, c := range req.Constraints {
		if versionQueryRe.MatchString(c) {
			return fmt.Errorf("constraint asks the backend about versions directly")
		}
	}
	return nil
}

// ValidateResponse rejects responses that would modify the dependency
// manifest or that claim success with nothing to apply.
func ValidateResponse(resp FixResponse) error {
	if resp.Success && len(resp.Changes) == 0 {
		return fmt.Errorf("successful response carries zero changes")
	}
	for _, change := range resp.Changes {
		base := path.Base(strings.ReplaceAll(change.Path, "\\", "/"))
		if _, protected := protectedFiles[base]; protected {
			return fmt.Errorf("response modifies protected manifest %s", change.Path)
		}
	}
	return nil
}

// ValidateResponseShape checks raw JSON against the embedded schema before
// decoding, so malformed provider output fails with a clear reason. The agent
// engine runs its change proposals through the same check.
func ValidateResponseShape(payload string) error {
	schemaLoader := gojsonschema.NewStringLoader(responseSchemaJSON)
	documentLoader := gojsonschema.NewStringLoader(payload)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("validate response schema: %w", err)
	}
	if result.Valid() {
		return nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, schemaErr := range result.Errors() {
		errs = append(errs, schemaErr.String())
	}
	sort.Strings(errs)
	return fmt.Errorf("response schema validation failed: %s", strings.Join(errs, "; "))
}
