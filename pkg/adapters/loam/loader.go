package loam

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/loam"
	"github.com/aretw0/warden/pkg/domain"
	"github.com/aretw0/warden/pkg/governance"
	"github.com/mitchellh/mapstructure"
)

// Loader implements ports.PolicyLoader over a Loam repository, one policy per document.
type Loader struct {
	Repo *loam.TypedRepository[PolicyMetadata]
}

// New creates a new Loader.
func New(repo *loam.TypedRepository[PolicyMetadata]) *Loader {
	return &Loader{Repo: repo}
}

// Open initializes a read-only Loam repository at dir and wraps it in a Loader.
func Open(dir string) (*Loader, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	repo, err := loam.Init(absPath,
		loam.WithStrict(true),
		loam.WithReadOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize loam: %w", err)
	}
	return New(loam.NewTypedRepository[PolicyMetadata](repo)), nil
}

// LoadPolicies reads every document, decodes its front matter into a policy
// and validates the whole set. Policies are returned ordered by ID.
func (l *Loader) LoadPolicies(ctx context.Context) ([]domain.Policy, error) {
	docs, err := l.Repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loam list failed: %w", err)
	}

	seen := make(map[string]string)
	policies := make([]domain.Policy, 0, len(docs))
	for _, doc := range docs {
		id := doc.Data.ID
		if id == "" {
			id = trimExtension(doc.ID)
		}
		if existing, ok := seen[id]; ok {
			return nil, fmt.Errorf("collision detected: policy '%s' is defined in both '%s' and '%s'", id, existing, doc.ID)
		}
		seen[id] = doc.ID

		p, err := toPolicy(id, doc.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", doc.ID, err)
		}
		policies = append(policies, p)
	}

	if err := governance.ValidatePolicies(policies); err != nil {
		return nil, err
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].ID < policies[j].ID })
	return policies, nil
}

// Watch reports changed document IDs until ctx ends.
func (l *Loader) Watch(ctx context.Context) (<-chan string, error) {
	events, err := l.Repo.Watch(ctx, "**/*.{md,json,yaml,yml}")
	if err != nil {
		return nil, fmt.Errorf("failed to start loam watcher: %w", err)
	}

	ch := make(chan string, 1)
	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				select {
				case ch <- evt.ID:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func toPolicy(id string, meta PolicyMetadata) (domain.Policy, error) {
	p := domain.Policy{
		ID:      id,
		Name:    meta.Name,
		Enabled: meta.Enabled == nil || *meta.Enabled,
		Rules:   make([]domain.Rule, 0, len(meta.Rules)),
	}
	if p.Name == "" {
		p.Name = id
	}
	for i, raw := range meta.Rules {
		var r domain.Rule
		if err := decodeRule(raw, &r); err != nil {
			return domain.Policy{}, fmt.Errorf("rule %d: %w", i, err)
		}
		p.Rules = append(p.Rules, r)
	}
	return p, nil
}

func decodeRule(raw map[string]any, out *domain.Rule) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

func trimExtension(id string) string {
	ext := filepath.Ext(id)
	if ext != "" {
		return filepath.ToSlash(strings.TrimSuffix(id, ext))
	}
	return filepath.ToSlash(id)
}
