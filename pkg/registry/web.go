package registry

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/aretw0/warden/pkg/domain"
)

type visitArgs struct {
	URL string `json:"url"`
}

// RegisterWeb exposes web.visit, a navigation that issues a GET and reports the status.
// A nil client uses http.DefaultClient.
func RegisterWeb(r *Registry, client *http.Client) {
	if client == nil {
		client = http.DefaultClient
	}
	r.Register("web.visit", Operation{
		Type:        domain.SpanNavigation,
		Description: "Visit a URL",
		Bind: func(args map[string]any) (domain.Binding, error) {
			var a visitArgs
			if err := decodeArgs(args, &a); err != nil {
				return domain.Binding{}, err
			}
			u, err := url.Parse(a.URL)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return domain.Binding{}, fmt.Errorf("%w: invalid url %q", domain.ErrInvalidSpan, a.URL)
			}
			return domain.Binding{
				Simulate: func(context.Context) (domain.Diff, error) {
					return domain.Diff{
						Changes: []domain.Change{{Kind: domain.ChangeUpdate, Target: "location", After: u.String()}},
						Impact:  domain.ImpactLow,
					}, nil
				},
				Forward: func(ctx context.Context) (any, error) {
					req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
					if err != nil {
						return nil, err
					}
					resp, err := client.Do(req)
					if err != nil {
						return nil, fmt.Errorf("visit %s: %w", u, err)
					}
					defer resp.Body.Close()
					if resp.StatusCode >= 400 {
						return nil, fmt.Errorf("visit %s: %s", u, resp.Status)
					}
					return map[string]any{"url": u.String(), "status": resp.StatusCode}, nil
				},
			}, nil
		},
	})
}
