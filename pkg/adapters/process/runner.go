package process

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/aretw0/warden/pkg/domain"
	"github.com/aretw0/warden/pkg/registry"
)

// OperationPrefix namespaces process operations in the catalog.
const OperationPrefix = "proc."

// DefaultTimeout bounds a step when its command sets none.
const DefaultTimeout = time.Minute

var argKey = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Runner executes allow-listed local processes.
type Runner struct {
	baseDir   string
	envPrefix string
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) { r.baseDir = dir }
}

// WithEnvPrefix changes the prefix of argument environment variables.
func WithEnvPrefix(prefix string) RunnerOption {
	return func(r *Runner) { r.envPrefix = prefix }
}

// NewRunner creates a new Process Runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{envPrefix: "WARDEN_ARG_"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register exposes every command on reg as proc.<name>.
func (r *Runner) Register(reg *registry.Registry, cmds []Command) {
	for _, c := range cmds {
		reg.Register(OperationPrefix+c.Name, registry.Operation{
			Type:        c.Type,
			Description: c.Description,
			Bind:        r.binder(c),
		})
	}
}

func (r *Runner) binder(c Command) func(map[string]any) (domain.Binding, error) {
	return func(args map[string]any) (domain.Binding, error) {
		env, err := r.environ(args)
		if err != nil {
			return domain.Binding{}, err
		}
		target := c.Target
		if target == "" {
			target = OperationPrefix + c.Name
		}

		b := domain.Binding{
			Simulate: func(ctx context.Context) (domain.Diff, error) {
				if c.Simulate == nil {
					// Nothing can be predicted without a dry run.
					return domain.Diff{
						Changes: []domain.Change{{Kind: domain.ChangeUpdate, Target: target, After: commandLine(c.Run)}},
						Impact:  domain.ImpactHigh,
					}, nil
				}
				out, err := r.run(ctx, c, *c.Simulate, env)
				if err != nil {
					return domain.Diff{}, fmt.Errorf("dry run: %w", err)
				}
				changes := []domain.Change{{Kind: domain.ChangeUpdate, Target: target, After: out}}
				return domain.Diff{Changes: changes, Impact: domain.ImpactOf(changes)}, nil
			},
			Forward: func(ctx context.Context) (any, error) {
				return r.run(ctx, c, c.Run, env)
			},
		}
		if c.Rollback != nil {
			b.Rollback = func(ctx context.Context) error {
				_, err := r.run(ctx, c, *c.Rollback, env)
				return err
			}
		}
		return b, nil
	}
}

// environ passes arguments as environment variables, never as flags, so
// argument values cannot inject options into the command line.
func (r *Runner) environ(args map[string]any) ([]string, error) {
	env := make([]string, 0, len(args))
	for k, v := range args {
		if !argKey.MatchString(k) {
			return nil, fmt.Errorf("%w: argument name %q", domain.ErrInvalidSpan, k)
		}
		var val string
		switch v.(type) {
		case string, int, int64, float64, bool:
			val = fmt.Sprint(v)
		case nil:
		default:
			data, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("%w: argument %s: %v", domain.ErrInvalidSpan, k, err)
			}
			val = string(data)
		}
		env = append(env, r.envPrefix+strings.ToUpper(k)+"="+val)
	}
	return env, nil
}

// run executes step and returns its stdout, decoded when it is JSON.
func (r *Runner) run(ctx context.Context, c Command, step Step, env []string) (any, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, step.Command, step.Args...)
	cmd.Dir = r.baseDir
	cmd.Env = append(cmd.Environ(), env...)
	for k, v := range step.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", step.Command, err, strings.TrimSpace(stderr.String()))
	}

	trimmed := strings.TrimSpace(stdout.String())
	if (strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) ||
		(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")) {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v, nil
		}
	}
	return trimmed, nil
}

func commandLine(s Step) string {
	return strings.TrimSpace(s.Command + " " + strings.Join(s.Args, " "))
}
