package llm

import (
	"context"
	"testing"

	"github.com/ngmend/ngmend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedClient struct {
	replies []string
	errs    []error
	calls   int
}

func (c *scriptedClient) Complete(_ context.Context, _ string, _ []Message) (string, error) {
	i := c.calls
	c.calls++
	var err error
	if i < len(c.errs) {
		err = c.errs[i]
	}
	reply := ""
	if i < len(c.replies) {
		reply = c.replies[i]
	}
	return reply, err
}

func sampleRequest() FixRequest {
	return FixRequest{
		Error: model.BuildError{
			Category: model.CategoryTypescript,
			Message:  "error TS2532: Object is possibly 'undefined'.",
			File:     "src/a.ts",
			Line:     3,
		},
		FileContent:   "const x = user.name;",
		TargetVersion: "20",
	}
}

func TestRequestFixParsesReply(t *testing.T) {
	client := &scriptedClient{replies: []string{
		"Here is the fix:\n" +
			`{"success": true, "reasoning": "guard access", "confidence": 0.8,` +
			` "changes": [{"path": "src/a.ts", "kind": "modify",` +
			` "replacements": [{"search": "user.name", "replace": "user?.name"}]}]}`,
	}}

	resp, err := RequestFix(context.Background(), client, sampleRequest())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	require.Len(t, resp.Changes, 1)
	assert.Equal(t, "user?.name", resp.Changes[0].Replacements[0].Replace)
	assert.InDelta(t, 0.8, resp.Confidence, 0.001)
}

func TestRequestFixRejectsManifestEdit(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"success": true, "changes": [{"path": "package.json", "kind": "modify", "content": "{}"}]}`,
	}}
	_, err := RequestFix(context.Background(), client, sampleRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "protected manifest")
}

func TestRequestFixRejectsZeroChanges(t *testing.T) {
	client := &scriptedClient{replies: []string{`{"success": true, "changes": []}`}}
	_, err := RequestFix(context.Background(), client, sampleRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zero changes")
}

func TestRequestFixRejectsVersionQuestion(t *testing.T) {
	req := sampleRequest()
	req.Constraints = []string{"tell me what version of rxjs is newest"}
	client := &scriptedClient{}
	_, err := RequestFix(context.Background(), client, req)
	require.Error(t, err)
	assert.Zero(t, client.calls, "rejected requests must not reach the provider")
}

func TestRequestFixNonJSONReply(t *testing.T) {
	client := &scriptedClient{replies: []string{"I cannot help with that."}}
	_, err := RequestFix(context.Background(), client, sampleRequest())
	assert.Error(t, err)
}

func TestValidateRequestEmptyMessage(t *testing.T) {
	err := ValidateRequest(FixRequest{TargetVersion: "20"})
	assert.Error(t, err)
}

func TestExtractJSONObject(t *testing.T) {
	payload, ok := extractJSONObject("```json\n{\"success\": false}\n```")
	require.True(t, ok)
	assert.JSONEq(t, `{"success": false}`, payload)

	_, ok = extractJSONObject("no braces here")
	assert.False(t, ok)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 1, EstimateTokens(""))
	assert.Equal(t, 26, EstimateTokens(string(make([]byte, 100))))
}
