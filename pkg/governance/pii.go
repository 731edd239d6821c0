package governance

import (
	"regexp"

	"github.com/aretw0/warden/pkg/domain"
)

// PII category names.
const (
	PIIEmail       = "email"
	PIICreditCard  = "credit_card"
	PIISSN         = "ssn"
	PIIIBAN        = "iban"
	PIIIPAddress   = "ip_address"
	PIIDateOfBirth = "date_of_birth"
	PIIPhone       = "phone"
)

type piiCategory struct {
	name    string
	pattern *regexp.Regexp
	token   string
	weight  float64
	// valid, when set, rejects pattern matches that are not real values.
	valid   func(string) bool
}

// Categories are scanned in order; earlier ones mask digits later ones would misread.
var defaultCategories = []piiCategory{
	{PIIEmail, regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`), "[EMAIL_REDACTED]", 0.3, nil},
	{PIICreditCard, regexp.MustCompile(`\b(?:\d{4}[ -]?){3}\d{4}\b`), "[CREDIT_CARD_REDACTED]", 0.5, luhn},
	{PIISSN, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN_REDACTED]", 0.5, nil},
	{PIIIBAN, regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`), "[IBAN_REDACTED]", 0.4, nil},
	{PIIIPAddress, regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\.){3}(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\b`), "[IP_ADDRESS_REDACTED]", 0.2, nil},
	{PIIDateOfBirth, regexp.MustCompile(`\b(?:0[1-9]|1[0-2])/(?:0[1-9]|[12]\d|3[01])/(?:19|20)\d{2}\b`), "[DATE_OF_BIRTH_REDACTED]", 0.2, nil},
	{PIIPhone, regexp.MustCompile(`(?:\+\d{1,3}[ .-]?)?\(?\b\d{3}\)?[ .-]?\d{3}[ .-]\d{4}\b`), "[PHONE_REDACTED]", 0.25, nil},
}

// Detector finds and masks personal data. It is stateless and safe for concurrent use.
type Detector struct {
	categories []piiCategory
}

// NewDetector creates a detector with the built-in categories.
func NewDetector() *Detector {
	return &Detector{categories: defaultCategories}
}

// Detect scans content. Confidence is the sum of per-match weights, capped at 1.
// Masked content contains no further matches, so detecting it again finds nothing.
func (d *Detector) Detect(content string) domain.PIIResult {
	res := domain.PIIResult{Original: content, Masked: content, Types: []string{}}

	for _, c := range d.categories {
		found := 0
		res.Masked = c.pattern.ReplaceAllStringFunc(res.Masked, func(m string) string {
			if c.valid != nil && !c.valid(m) {
				return m
			}
			found++
			return c.token
		})
		if found == 0 {
			continue
		}
		res.Types = append(res.Types, c.name)
		res.Confidence += c.weight * float64(found)
	}

	res.Detected = len(res.Types) > 0
	res.Confidence = min(max(res.Confidence, 0), 1)
	return res
}

// luhn reports whether the digits of s carry a valid Luhn check digit.
func luhn(s string) bool {
	sum, n := 0, 0
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] < '0' || s[i] > '9' {
			continue
		}
		d := int(s[i] - '0')
		if n%2 == 1 {
			if d *= 2; d > 9 {
				d -= 9
			}
		}
		sum += d
		n++
	}
	return n > 0 && sum%10 == 0
}

// Redact returns content with every detected category masked.
func (d *Detector) Redact(content string) string {
	return d.Detect(content).Masked
}
