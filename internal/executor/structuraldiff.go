package executor

import (
	"github.com/sergi/go-diff/diffmatchpatch"
)

// structuralDiff computes a deterministic character-level diff between two
// states' canonical JSON. It rides along in Execution.result as an opaque
// debugging aid and is never substituted for the LLM's change_summary; its
// only purpose is giving operators something byte-deterministic to compare
// against the model's prose when the two disagree.
func structuralDiff(previous, current []byte) (string, error) {
	prevCanon, err := canonicalize(previous)
	if err != nil {
		return "", err
	}
	currCanon, err := canonicalize(current)
	if err != nil {
		return "", err
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(string(prevCanon), string(currCanon), false)
	return dmp.DiffPrettyText(diffs), nil
}
