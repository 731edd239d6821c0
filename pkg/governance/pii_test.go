package governance_test

import (
	"testing"

	"github.com/aretw0/warden/pkg/governance"
	"github.com/stretchr/testify/assert"
)

func TestDetector_Categories(t *testing.T) {
	tests := []struct {
		name    string
		content string
		types   []string
		masked  string
	}{
		{"email", "mail jane.doe@corp.io now", []string{governance.PIIEmail}, "mail [EMAIL_REDACTED] now"},
		{"credit card", "card 4111 1111 1111 1111", []string{governance.PIICreditCard}, "card [CREDIT_CARD_REDACTED]"},
		{"ssn", "ssn 123-45-6789", []string{governance.PIISSN}, "ssn [SSN_REDACTED]"},
		{"iban", "iban DE89370400440532013000", []string{governance.PIIIBAN}, "iban [IBAN_REDACTED]"},
		{"ip", "from 192.168.10.42", []string{governance.PIIIPAddress}, "from [IP_ADDRESS_REDACTED]"},
		{"date of birth", "born 04/23/1988", []string{governance.PIIDateOfBirth}, "born [DATE_OF_BIRTH_REDACTED]"},
		{"phone", "call 555-867-5309", []string{governance.PIIPhone}, "call [PHONE_REDACTED]"},
		{"none", "nothing to see here", []string{}, "nothing to see here"},
	}

	d := governance.NewDetector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := d.Detect(tt.content)
			assert.Equal(t, tt.types, res.Types)
			assert.Equal(t, tt.masked, res.Masked)
			assert.Equal(t, tt.content, res.Original)
			assert.Equal(t, len(tt.types) > 0, res.Detected)
		})
	}
}

func TestDetector_MaskingIsIdempotent(t *testing.T) {
	d := governance.NewDetector()
	res := d.Detect(`{"email":"a@b.co","ssn":"123-45-6789","card":"4111-1111-1111-1111","phone":"(555) 123-4567"}`)
	assert.True(t, res.Detected)

	again := d.Detect(res.Masked)
	assert.False(t, again.Detected)
	assert.Equal(t, res.Masked, again.Masked)
}

func TestDetector_CardsMustPassLuhn(t *testing.T) {
	d := governance.NewDetector()

	res := d.Detect("order 1234 5678 9012 3456 paid with 4012-8888-8888-1881")
	assert.Equal(t, []string{governance.PIICreditCard}, res.Types)
	assert.Equal(t, "order 1234 5678 9012 3456 paid with [CREDIT_CARD_REDACTED]", res.Masked)
	assert.InDelta(t, 0.5, res.Confidence, 1e-9)

	assert.False(t, d.Detect("tracking 1234567890123456").Detected)
}

func TestDetector_ConfidenceIsCapped(t *testing.T) {
	d := governance.NewDetector()
	res := d.Detect("4111111111111111 4012888888881881 5555555555554444")
	assert.Equal(t, 1.0, res.Confidence)

	single := d.Detect("x@y.org")
	assert.InDelta(t, 0.3, single.Confidence, 1e-9)
}
