package warden_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/warden"
	"github.com/aretw0/warden/pkg/domain"
	"github.com/aretw0/warden/pkg/registry"
)

// ExampleNew walks a reversible write through approval, execution and rollback.
func ExampleNew() {
	reg := registry.NewRegistry()
	kv := registry.NewKV()
	registry.RegisterKV(reg, kv)

	w, err := warden.New(warden.WithRegistry(reg))
	if err != nil {
		log.Fatal(err)
	}

	// Every governed call carries the acting identity.
	ctx := domain.WithActor(context.Background(), domain.Actor{ID: "alice"})

	span, err := w.Create(ctx, warden.SpanRequest{
		Operation: "kv.put",
		Args:      map[string]any{"key": "feature", "value": "enabled"},
	})
	if err != nil {
		log.Fatal(err)
	}

	diff, _ := w.Simulate(ctx, span.ID)
	fmt.Println("impact:", diff.Impact)

	v, _ := w.Validate(ctx, span.ID)
	fmt.Println("can execute:", v.CanExecute)

	a, _ := w.Approval(ctx, v.ApprovalID)
	for _, s := range a.Approvers {
		_ = w.Approve(ctx, a.ID, s.ApproverID, "looks good")
	}

	if _, err := w.Execute(ctx, span.ID); err != nil {
		log.Fatal(err)
	}
	fmt.Println("value:", kv.Snapshot()["feature"])

	if err := w.Rollback(ctx, span.ID); err != nil {
		log.Fatal(err)
	}
	_, ok := kv.Snapshot()["feature"]
	fmt.Println("present after rollback:", ok)

	// Output:
	// impact: low
	// can execute: false
	// value: enabled
	// present after rollback: false
}
