// Package designation implements the GOST designation rules for engineering
// documents: organization codes, classifier codes and the assembled
// designation string ("АБВГ.301241.005СБ").
package designation

import (
	"fmt"
	"regexp"
)

// Organization code forms. A letter code is four uppercase Cyrillic letters
// (GOST 2.201); a numeric code is eight digits, either a generic number or an
// OKPO registry number.
var (
	orgLettersRe = regexp.MustCompile(`^[А-Я]{4}$`)
	orgDigitsRe  = regexp.MustCompile(`^\d{8}$`)

	classKDRe = regexp.MustCompile(`^\d{6}$`)
	classTDRe = regexp.MustCompile(`^\d{7}$`)
)

// OrgCodeForm identifies which of the accepted organization code forms a
// given code uses.
type OrgCodeForm int

const (
	// OrgCodeLetters is a four-letter Cyrillic code.
	OrgCodeLetters OrgCodeForm = iota
	// OrgCodeDigits is an eight-digit numeric code.
	OrgCodeDigits
)

// ValidateOrgCode checks an organization code. When okpo is true the code
// must be an eight-digit OKPO number; otherwise both the four-letter and the
// eight-digit generic forms are accepted. Returns the detected form.
func ValidateOrgCode(code string, okpo bool) (OrgCodeForm, error) {
	if code == "" {
		return 0, fmt.Errorf("organization code is required")
	}
	if okpo {
		if !orgDigitsRe.MatchString(code) {
			return 0, fmt.Errorf("OKPO code must be exactly 8 digits")
		}
		return OrgCodeDigits, nil
	}
	switch {
	case orgLettersRe.MatchString(code):
		return OrgCodeLetters, nil
	case orgDigitsRe.MatchString(code):
		return OrgCodeDigits, nil
	}
	return 0, fmt.Errorf("organization code must be 4 uppercase Cyrillic letters or 8 digits")
}

// ValidateClassCode checks a classifier code: 6 digits for design documents
// (KD classifier), 7 digits for technological documents (TD classifier).
func ValidateClassCode(code string, kd bool) error {
	if kd {
		if !classKDRe.MatchString(code) {
			return fmt.Errorf("KD class code must be exactly 6 digits")
		}
		return nil
	}
	if !classTDRe.MatchString(code) {
		return fmt.Errorf("TD class code must be exactly 7 digits")
	}
	return nil
}

// ValidateKindCode checks a document kind code (GOST R 2.102, e.g. "СБ").
// The code is optional; when present it is at most 3 characters.
func ValidateKindCode(code string) error {
	if len([]rune(code)) > 3 {
		return fmt.Errorf("document kind code must be at most 3 characters")
	}
	return nil
}

// Format assembles a designation from its parts. The registration number is
// zero-padded to three digits; the kind code, when non-empty, is appended
// without a separator: "АБВГ.301241.005СБ".
func Format(orgCode, classCode string, number int, kindCode string) string {
	d := fmt.Sprintf("%s.%s.%03d", orgCode, classCode, number)
	if kindCode != "" {
		d += kindCode
	}
	return d
}
