package warden

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/warden/pkg/domain"
	"github.com/aretw0/warden/pkg/governance"
)

// ErrAborted is returned when the operator declines to continue.
var ErrAborted = errors.New("aborted by operator")

// Runner walks a span through its lifecycle on a terminal: it shows the predicted
// diff, asks for contract signature and approver decisions, then executes.
type Runner struct {
	Input    io.Reader
	Output   io.Writer
	Headless bool
	Renderer ContentRenderer
	// Signer is the identity contracts are signed as. Defaults to the data protection officer.
	Signer   string
}

// ContentRenderer transforms markdown before it is printed.
// This allows for TUI rendering (markdown to ANSI) without coupling the core package.
type ContentRenderer func(string) (string, error)

// NewRunner creates a Runner. Input and Output must be set before Run.
func NewRunner() *Runner {
	return &Runner{}
}

// Run drives spanID to an outcome. In headless mode nothing is asked: the run stops
// with ErrAborted when a decision would be needed.
func (r *Runner) Run(ctx context.Context, w *Warden, spanID string) (any, error) {
	if r.Input == nil {
		return nil, fmt.Errorf("input reader must be set (use os.Stdin)")
	}
	if r.Output == nil {
		return nil, fmt.Errorf("output writer must be set (use os.Stdout)")
	}
	in := bufio.NewReader(r.Input)

	diff, err := w.Simulate(ctx, spanID)
	if err != nil {
		return nil, fmt.Errorf("simulate: %w", err)
	}
	r.print(diffMarkdown(diff))

	for {
		v, err := w.Validate(ctx, spanID)
		if err != nil {
			return nil, fmt.Errorf("validate: %w", err)
		}
		if len(v.Violations) > 0 && !v.RequiresApproval && !v.CanExecute {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotAuthorized, strings.Join(v.Violations, "; "))
		}
		if v.CanExecute {
			break
		}
		if r.Headless {
			return nil, ErrAborted
		}

		progressed := false
		if v.ContractRequired {
			signed, err := r.contract(ctx, in, w, spanID, v)
			if err != nil {
				return nil, err
			}
			progressed = progressed || signed
		}
		if v.ApprovalID != "" {
			decided, err := r.approvals(ctx, in, w, v.ApprovalID)
			if err != nil {
				return nil, err
			}
			progressed = progressed || decided
		}
		if !progressed {
			return nil, ErrAborted
		}
	}

	result, err := w.Execute(ctx, spanID)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(r.Output, "Executed: %v\n", result)
	return result, nil
}

func (r *Runner) contract(ctx context.Context, in *bufio.Reader, w *Warden, spanID string, v governance.Validation) (bool, error) {
	c, err := w.GenerateContract(ctx, spanID, v.PIITypes)
	if err != nil {
		return false, fmt.Errorf("contract: %w", err)
	}
	r.print(c.Markdown())
	signer := r.Signer
	if signer == "" {
		signer = governance.RoleDataProtectionOfficer
	}
	ok, err := r.confirm(in, fmt.Sprintf("Sign this contract as %s?", signer))
	if err != nil || !ok {
		return false, err
	}
	as := domain.WithActor(ctx, domain.Actor{ID: signer, Roles: []string{signer}})
	if _, err := w.SignContract(as, c.ID); err != nil {
		return false, fmt.Errorf("sign: %w", err)
	}
	return true, nil
}

// approvals asks every approver still pending. A rejection ends the run.
func (r *Runner) approvals(ctx context.Context, in *bufio.Reader, w *Warden, approvalID string) (bool, error) {
	a, err := w.Approval(ctx, approvalID)
	if err != nil {
		return false, err
	}
	if a.Status != domain.ApprovalPending {
		if a.Status == domain.ApprovalApproved {
			return false, nil
		}
		return false, fmt.Errorf("%w: approval %s is %s", domain.ErrNotAuthorized, a.ID, a.Status)
	}

	decided := false
	for _, s := range a.Approvers {
		if s.Decision != domain.DecisionPending {
			continue
		}
		ok, err := r.confirm(in, fmt.Sprintf("Approve as %s?", s.Role))
		if err != nil {
			return decided, err
		}
		if !ok {
			if err := w.Reject(ctx, a.ID, s.ApproverID, "rejected from terminal"); err != nil {
				return decided, err
			}
			return true, fmt.Errorf("%w: rejected by %s", ErrAborted, s.ApproverID)
		}
		if err := w.Approve(ctx, a.ID, s.ApproverID, "approved from terminal"); err != nil {
			return decided, err
		}
		decided = true
	}
	return decided, nil
}

func (r *Runner) confirm(in *bufio.Reader, question string) (bool, error) {
	fmt.Fprintf(r.Output, "%s [y/N] ", question)
	text, err := in.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			return false, nil
		}
		return false, fmt.Errorf("input error: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(text))
	return answer == "y" || answer == "yes", nil
}

func (r *Runner) print(markdown string) {
	output := markdown
	if r.Renderer != nil {
		if rendered, err := r.Renderer(markdown); err == nil {
			output = rendered
		}
	}
	fmt.Fprintln(r.Output, strings.TrimSpace(output))
}

func diffMarkdown(d domain.Diff) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Predicted changes (%s impact)\n\n", d.Impact)
	if d.IsEmpty() {
		b.WriteString("_No changes._\n")
	}
	for _, c := range d.Changes {
		fmt.Fprintf(&b, "- **%s** `%s`", c.Kind, c.Target)
		if c.Before != nil {
			fmt.Fprintf(&b, " from `%v`", c.Before)
		}
		if c.After != nil {
			fmt.Fprintf(&b, " to `%v`", c.After)
		}
		b.WriteString("\n")
	}
	if !d.Reversible {
		b.WriteString("\n> This operation cannot be rolled back.\n")
	}
	return b.String()
}
