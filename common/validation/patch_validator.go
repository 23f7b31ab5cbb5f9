package validation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MaxPatchOperations caps the size of a single edit to keep pathological
// patches from tying up the editor endpoint.
const MaxPatchOperations = 100

// protectedPaths are document fields a patch must not touch. Identity and
// provenance fields only change through the repository layer.
var protectedPaths = []string{
	"/id",
	"/schemaVersion",
	"/createdAt",
}

// PatchValidator checks RFC 6902 operations against a sequence document
// before they are applied
type PatchValidator struct{}

// NewPatchValidator creates a new patch validator
func NewPatchValidator() *PatchValidator {
	return &PatchValidator{}
}

// patchOp is the minimal shape of one RFC 6902 operation
type patchOp struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	From  string          `json:"from,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// ValidateOperations decodes and validates a raw JSON Patch document.
// Structural application errors (missing paths, bad indices) are left to
// the patch library; this pass rejects only what should never be attempted.
func (v *PatchValidator) ValidateOperations(raw []byte) error {
	var ops []patchOp
	if err := json.Unmarshal(raw, &ops); err != nil {
		return fmt.Errorf("patch must be a JSON array of operations: %w", err)
	}

	if len(ops) == 0 {
		return fmt.Errorf("patch contains no operations")
	}
	if len(ops) > MaxPatchOperations {
		return fmt.Errorf("patch contains %d operations; the limit is %d", len(ops), MaxPatchOperations)
	}

	for i, op := range ops {
		if err := v.validateOperation(op, i); err != nil {
			return err
		}
	}
	return nil
}

func (v *PatchValidator) validateOperation(op patchOp, index int) error {
	switch op.Op {
	case "add", "replace", "test":
		if len(op.Value) == 0 {
			return fmt.Errorf("operation %d: 'value' required for %s", index, op.Op)
		}
	case "remove":
	case "move", "copy":
		if op.From == "" {
			return fmt.Errorf("operation %d: 'from' required for %s", index, op.Op)
		}
		if pathIsProtected(op.From) {
			return fmt.Errorf("operation %d: path %s cannot be modified by a patch", index, op.From)
		}
	default:
		return fmt.Errorf("operation %d: unsupported operation type %q", index, op.Op)
	}

	if op.Path == "" {
		return fmt.Errorf("operation %d: missing 'path'", index)
	}
	if !strings.HasPrefix(op.Path, "/") {
		return fmt.Errorf("operation %d: path %q must start with '/'", index, op.Path)
	}
	if pathIsProtected(op.Path) {
		return fmt.Errorf("operation %d: path %s cannot be modified by a patch", index, op.Path)
	}

	// Whole-arena replacement would bypass per-node review; edits go
	// through /nodes/<id> paths.
	if op.Path == "/nodes" && op.Op != "test" {
		return fmt.Errorf("operation %d: replace individual nodes under /nodes/, not the whole arena", index)
	}

	return nil
}

func pathIsProtected(path string) bool {
	for _, p := range protectedPaths {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
