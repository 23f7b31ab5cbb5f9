package validation

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatchValidatorAcceptsTypicalEdit(t *testing.T) {
	patch := []byte(`[
		{"op": "replace", "path": "/name", "value": "Renamed plan"},
		{"op": "add", "path": "/description", "value": "updated"},
		{"op": "remove", "path": "/authorEstimateSecs"}
	]`)

	assert.NoError(t, NewPatchValidator().ValidateOperations(patch))
}

func TestPatchValidatorRejectsNonArray(t *testing.T) {
	err := NewPatchValidator().ValidateOperations([]byte(`{"op": "replace"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JSON array")
}

func TestPatchValidatorRejectsEmptyPatch(t *testing.T) {
	err := NewPatchValidator().ValidateOperations([]byte(`[]`))
	assert.Error(t, err)
}

func TestPatchValidatorRejectsProtectedPaths(t *testing.T) {
	for _, path := range []string{"/id", "/schemaVersion", "/createdAt"} {
		patch := []byte(fmt.Sprintf(`[{"op": "replace", "path": "%s", "value": "x"}]`, path))
		err := NewPatchValidator().ValidateOperations(patch)
		require.Error(t, err, "path %s", path)
		assert.Contains(t, err.Error(), "cannot be modified")
	}
}

func TestPatchValidatorRejectsMoveFromProtectedPath(t *testing.T) {
	patch := []byte(`[{"op": "move", "from": "/id", "path": "/description"}]`)
	assert.Error(t, NewPatchValidator().ValidateOperations(patch))
}

func TestPatchValidatorRejectsWholeArenaReplace(t *testing.T) {
	patch := []byte(`[{"op": "replace", "path": "/nodes", "value": {}}]`)
	err := NewPatchValidator().ValidateOperations(patch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "individual nodes")
}

func TestPatchValidatorAllowsPerNodeEdit(t *testing.T) {
	patch := []byte(`[{"op": "replace", "path": "/nodes/7b0c1de2-0000-0000-0000-000000000000/enabled", "value": false}]`)
	assert.NoError(t, NewPatchValidator().ValidateOperations(patch))
}

func TestPatchValidatorRequiresValue(t *testing.T) {
	patch := []byte(`[{"op": "replace", "path": "/name"}]`)
	err := NewPatchValidator().ValidateOperations(patch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'value' required")
}

func TestPatchValidatorRejectsUnknownOp(t *testing.T) {
	patch := []byte(`[{"op": "merge", "path": "/name", "value": "x"}]`)
	assert.Error(t, NewPatchValidator().ValidateOperations(patch))
}

func TestPatchValidatorRejectsRelativePath(t *testing.T) {
	patch := []byte(`[{"op": "remove", "path": "name"}]`)
	assert.Error(t, NewPatchValidator().ValidateOperations(patch))
}

func TestPatchValidatorEnforcesOperationLimit(t *testing.T) {
	var ops []string
	for i := 0; i <= MaxPatchOperations; i++ {
		ops = append(ops, `{"op": "replace", "path": "/name", "value": "x"}`)
	}
	patch := []byte("[" + strings.Join(ops, ",") + "]")

	err := NewPatchValidator().ValidateOperations(patch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit")
}
