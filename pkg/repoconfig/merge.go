package repoconfig

import (
	"fmt"
)

// Merge resolves a concurrent edit. lastKnown is the configuration the
// editor started from, submitted is what they saved and originRaw is the
// document currently stored in the repository. The changes from lastKnown
// to submitted (both completed with defaults) are replayed onto originRaw,
// so edits made at the origin in the meantime survive unless the submitter
// changed the same key. An empty originRaw starts from the rendered
// defaults.
func Merge(lastKnown, submitted *Config, originRaw []byte) ([]byte, *Config, error) {
	ops := Diff(withDefaults(lastKnown), withDefaults(submitted))

	if len(originRaw) == 0 {
		rendered, err := Render(Defaults())
		if err != nil {
			return nil, nil, err
		}
		originRaw = rendered
	}

	doc, err := ParseDocument(originRaw)
	if err != nil {
		return nil, nil, err
	}
	if err := Apply(doc, ops); err != nil {
		return nil, nil, fmt.Errorf("apply changes: %w", err)
	}

	merged, err := encodeNode(doc)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := Parse(merged)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return merged, cfg, nil
}
