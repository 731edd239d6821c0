package domain

import (
	"fmt"
	"strings"
)

// Markdown renders the contract as a user-facing document.
func (c Contract) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Data Handling Contract\n\n")
	fmt.Fprintf(&b, "**Contract:** `%s`  \n**Span:** `%s` (%s)  \n**Risk level:** %s  \n**Status:** %s\n\n",
		c.ID, c.SpanID, c.SpanType, strings.ToUpper(string(c.RiskLevel)), c.Status)

	fmt.Fprintf(&b, "## Scope\n\n%s\n\n", c.Scope)

	b.WriteString("## Personal data involved\n\n")
	for _, t := range c.PIITypes {
		fmt.Fprintf(&b, "- %s\n", t)
	}

	b.WriteString("\n## Benefits\n\n")
	for _, s := range c.Benefits {
		fmt.Fprintf(&b, "- %s\n", s)
	}

	b.WriteString("\n## Obligations\n\n")
	for _, s := range c.Obligations {
		fmt.Fprintf(&b, "- %s\n", s)
	}

	if c.Status == ContractSigned && c.SignedAt != nil {
		fmt.Fprintf(&b, "\n---\nSigned by **%s** at %s\n", c.SignedBy, c.SignedAt.Format("2006-01-02 15:04 MST"))
	}
	return b.String()
}
