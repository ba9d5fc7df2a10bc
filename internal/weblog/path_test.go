package weblog

import (
	"testing"

	"github.com/weblog-relay/internal/domain"
)

func TestExtractSiteFromPath(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantDomain string
		wantKind   string
		wantErr    bool
	}{
		{
			name:       "Valid access log path",
			path:       "/var/www/example.com/log/access.log",
			wantDomain: "example.com",
			wantKind:   domain.KindAccess,
			wantErr:    false,
		},
		{
			name:       "Valid error log path",
			path:       "/var/www/example.com/log/error.log",
			wantDomain: "example.com",
			wantKind:   domain.KindError,
			wantErr:    false,
		},
		{
			name:       "Deeply nested base directory",
			path:       "/srv/hosting/customers/42/static.cdn.example.co.uk/log/access.log",
			wantDomain: "static.cdn.example.co.uk",
			wantKind:   domain.KindAccess,
			wantErr:    false,
		},
		{
			name:       "Windows separators",
			path:       `C:\www\example.com\log\error.log`,
			wantDomain: "example.com",
			wantKind:   domain.KindError,
			wantErr:    false,
		},
		{
			name:       "Uppercase domain is normalized",
			path:       "/var/www/Example.COM/log/access.log",
			wantDomain: "example.com",
			wantKind:   domain.KindAccess,
			wantErr:    false,
		},
		{
			name:    "Wrong file name",
			path:    "/var/www/example.com/log/debug.log",
			wantErr: true,
		},
		{
			name:    "Missing log directory",
			path:    "/var/www/example.com/access.log",
			wantErr: true,
		},
		{
			name:    "Site directory is not a domain",
			path:    "/var/www/backups/log/access.log",
			wantErr: true,
		},
		{
			name:    "Path too short",
			path:    "access.log",
			wantErr: true,
		},
		{
			name:    "Empty path",
			path:    "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotDomain, gotKind, err := ExtractSiteFromPath(tt.path)

			if (err != nil) != tt.wantErr {
				t.Errorf("ExtractSiteFromPath() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if err == nil {
				if gotDomain != tt.wantDomain {
					t.Errorf("ExtractSiteFromPath() domain = %v, want %v", gotDomain, tt.wantDomain)
				}
				if gotKind != tt.wantKind {
					t.Errorf("ExtractSiteFromPath() kind = %v, want %v", gotKind, tt.wantKind)
				}
			}
		})
	}
}

func TestNormalizeHost(t *testing.T) {
	tests := []struct {
		name string
		host string
		want string
	}{
		{name: "Plain hostname", host: "web-01", want: "web-01"},
		{name: "Uppercase", host: "WEB-01.example.com", want: "web-01.example.com"},
		{name: "Surrounding whitespace", host: "  web-01 ", want: "web-01"},
		{name: "Embedded whitespace is unusable", host: "web 01", want: ""},
		{name: "Empty", host: "", want: ""},
		{name: "Whitespace only", host: "   ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeHost(tt.host); got != tt.want {
				t.Errorf("NormalizeHost(%q) = %q, want %q", tt.host, got, tt.want)
			}
		})
	}
}
