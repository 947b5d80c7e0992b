package designation

import (
	"testing"
)

func TestValidateOrgCode(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		okpo     bool
		wantForm OrgCodeForm
		wantErr  bool
	}{
		{"four cyrillic letters", "АБВГ", false, OrgCodeLetters, false},
		{"eight digits generic", "12345678", false, OrgCodeDigits, false},
		{"eight digits okpo", "87654321", true, OrgCodeDigits, false},
		{"empty", "", false, 0, true},
		{"lowercase cyrillic", "абвг", false, 0, true},
		{"latin letters", "ABCD", false, 0, true},
		{"three letters", "АБВ", false, 0, true},
		{"five letters", "АБВГД", false, 0, true},
		{"seven digits", "1234567", false, 0, true},
		{"nine digits", "123456789", false, 0, true},
		{"letters as okpo", "АБВГ", true, 0, true},
		{"short okpo", "1234", true, 0, true},
		{"digits with space", "1234 678", false, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form, err := ValidateOrgCode(tt.code, tt.okpo)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateOrgCode(%q, %v) error = %v, wantErr %v", tt.code, tt.okpo, err, tt.wantErr)
			}
			if err == nil && form != tt.wantForm {
				t.Errorf("ValidateOrgCode(%q, %v) form = %v, want %v", tt.code, tt.okpo, form, tt.wantForm)
			}
		})
	}
}

func TestValidateClassCode(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		kd      bool
		wantErr bool
	}{
		{"kd six digits", "301241", true, false},
		{"td seven digits", "3012415", false, false},
		{"kd too short", "30124", true, true},
		{"kd too long", "3012411", true, true},
		{"td six digits", "301241", false, true},
		{"kd letters", "30124А", true, true},
		{"empty kd", "", true, true},
		{"empty td", "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateClassCode(tt.code, tt.kd)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateClassCode(%q, %v) error = %v, wantErr %v", tt.code, tt.kd, err, tt.wantErr)
			}
		})
	}
}

func TestValidateKindCode(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantErr bool
	}{
		{"empty", "", false},
		{"two letters", "СБ", false},
		{"three letters", "ПЭЗ", false},
		{"four letters", "АБВГ", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKindCode(tt.code)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateKindCode(%q) error = %v, wantErr %v", tt.code, err, tt.wantErr)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name      string
		orgCode   string
		classCode string
		number    int
		kindCode  string
		want      string
	}{
		{"letter org, no kind", "АБВГ", "301241", 5, "", "АБВГ.301241.005"},
		{"letter org with kind", "АБВГ", "301241", 5, "СБ", "АБВГ.301241.005СБ"},
		{"numeric org", "12345678", "3012415", 12, "", "12345678.3012415.012"},
		{"number above padding", "АБВГ", "301241", 1234, "", "АБВГ.301241.1234"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Format(tt.orgCode, tt.classCode, tt.number, tt.kindCode)
			if got != tt.want {
				t.Errorf("Format() = %q, want %q", got, tt.want)
			}
		})
	}
}
