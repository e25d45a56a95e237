package censor

import "testing"

func TestParseUsageContext(t *testing.T) {
	tests := []struct {
		in      string
		want    UsageContext
		wantErr bool
	}{
		{"public_site", ContextPublicSite, false},
		{"public_gallery", ContextPublicSite, false},
		{" Paysite ", ContextPaysite, false},
		{"paysite_content", ContextPaysite, false},
		{"store", ContextStore, false},
		{"private_gallery", ContextStore, false},
		{"", "", true},
		{"gallery", "", true},
	}
	for _, tt := range tests {
		got, err := ParseUsageContext(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseUsageContext(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if tt.wantErr && !IsConfigurationError(err) {
			t.Errorf("ParseUsageContext(%q) error = %v, want configuration error", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseUsageContext(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestUsageContexts(t *testing.T) {
	all := UsageContexts()
	if len(all) != 3 {
		t.Fatalf("UsageContexts() = %v", all)
	}
	for _, uc := range all {
		if !uc.Valid() {
			t.Errorf("%q not valid", uc)
		}
	}
	if UsageContext("public_gallery").Valid() {
		t.Error("aliases are not canonical contexts")
	}
}

func TestRiskLevel_String(t *testing.T) {
	if RiskCritical.String() != "critical" || RiskMinimal.String() != "minimal" {
		t.Errorf("String() = %q, %q", RiskCritical, RiskMinimal)
	}
	if RiskLevel(42).String() != "unknown" {
		t.Errorf("RiskLevel(42).String() = %q", RiskLevel(42))
	}
}
