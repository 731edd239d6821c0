package sink

import (
	"context"
	"regexp"

	"github.com/aretw0/warden/pkg/domain"
)

// Redactor masks personal data inside free text.
type Redactor interface {
	Redact(content string) string
}

type redactSink struct {
	next     Sink
	redactor Redactor
	patterns []*regexp.Regexp
}

// NewRedactionMiddleware masks event messages and string metadata with redactor,
// and replaces values of metadata keys matching keyPatterns with "***".
func NewRedactionMiddleware(redactor Redactor, keyPatterns []string) Middleware {
	patterns := make([]*regexp.Regexp, len(keyPatterns))
	for i, p := range keyPatterns {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next Sink) Sink {
		return &redactSink{next: next, redactor: redactor, patterns: patterns}
	}
}

func (m *redactSink) Publish(ctx context.Context, e domain.Event) error {
	// Deep clone so the event retained by the timeline is untouched.
	cloned := e
	cloned.Metadata = deepCopyMap(e.Metadata)
	if m.redactor != nil {
		cloned.Message = m.redactor.Redact(e.Message)
	}
	m.maskMap(cloned.Metadata)
	return m.next.Publish(ctx, cloned)
}

// Helpers

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if subMap, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(subMap)
		} else {
			out[k] = v
		}
	}
	return out
}

func (m *redactSink) maskMap(values map[string]any) {
	for k, v := range values {
		masked := false
		for _, p := range m.patterns {
			if p.MatchString(k) {
				values[k] = "***"
				masked = true
				break
			}
		}
		if masked {
			continue
		}

		switch val := v.(type) {
		case map[string]any:
			m.maskMap(val)
		case string:
			if m.redactor != nil {
				values[k] = m.redactor.Redact(val)
			}
		}
	}
}
