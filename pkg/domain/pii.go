package domain

import (
	"slices"
	"time"
)

// PIIResult is the outcome of scanning content for personal data.
type PIIResult struct {
	Detected   bool     `json:"detected"`
	Types      []string `json:"types"`
	Confidence float64  `json:"confidence"`
	Masked     string   `json:"masked"`
	Original   string   `json:"original"`
}

// ContractStatus is the sign-off state of a PII contract.
type ContractStatus string

const (
	ContractPending ContractStatus = "pending"
	ContractSigned  ContractStatus = "signed"
)

// Contract is a human-readable disclosure required before PII is handled.
type Contract struct {
	ID          string         `json:"id"`
	SpanID      string         `json:"span_id"`
	SpanType    SpanType       `json:"span_type"`
	PIITypes    []string       `json:"pii_types"`
	RiskLevel   RiskLevel      `json:"risk_level"`
	Scope       string         `json:"scope"`
	Benefits    []string       `json:"benefits"`
	Obligations []string       `json:"obligations"`
	Status      ContractStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	RequestedBy string         `json:"requested_by,omitempty"`
	SignedBy    string         `json:"signed_by,omitempty"`
	SignedAt    *time.Time     `json:"signed_at,omitempty"`
}

// Covers reports whether the contract is signed and includes every given type.
func (c Contract) Covers(types []string) bool {
	if c.Status != ContractSigned {
		return false
	}
	for _, t := range types {
		if !slices.Contains(c.PIITypes, t) {
			return false
		}
	}
	return true
}
