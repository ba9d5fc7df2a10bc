package weblog

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/weblog-relay/internal/domain"
)

// Site domain pattern: dot-separated labels of letters, digits and
// hyphens, e.g. "example.com" or "static.cdn.example.co.uk".
var domainRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)+$`)

// ExtractSiteFromPath extracts the site domain and record kind from a
// web-server log file path.
//
// Expected path structure:
//
//	<base>/<domain>/log/(access|error).log
//	Example: /var/www/example.com/log/access.log
//
// Returns:
//
//	siteDomain - the served domain, lowercased
//	kind       - domain.KindAccess or domain.KindError
//	error      - if the path does not follow the convention
func ExtractSiteFromPath(filePath string) (siteDomain, kind string, err error) {
	// Normalize path separators to forward slashes
	normalizedPath := filepath.ToSlash(filePath)

	parts := strings.Split(normalizedPath, "/")

	// Remove empty parts (from leading/trailing slashes)
	var cleanParts []string
	for _, part := range parts {
		if part != "" {
			cleanParts = append(cleanParts, part)
		}
	}

	if len(cleanParts) < 3 {
		return "", "", fmt.Errorf("path too short to contain a site directory (expected at least 3 parts, got %d): %s", len(cleanParts), filePath)
	}

	fileName := cleanParts[len(cleanParts)-1]
	logDir := cleanParts[len(cleanParts)-2]
	siteDir := cleanParts[len(cleanParts)-3]

	switch fileName {
	case "access.log":
		kind = domain.KindAccess
	case "error.log":
		kind = domain.KindError
	default:
		return "", "", fmt.Errorf("unrecognized log file name %q (expected access.log or error.log): %s", fileName, filePath)
	}

	if logDir != "log" {
		return "", "", fmt.Errorf("log file not inside a log directory (got %q): %s", logDir, filePath)
	}

	siteDomain = strings.ToLower(siteDir)
	if !domainRegex.MatchString(siteDomain) {
		return "", "", fmt.Errorf("site directory %q does not look like a domain: %s", siteDir, filePath)
	}

	return siteDomain, kind, nil
}

// NormalizeHost canonicalizes a host label: trimmed and lowercased.
// Returns an empty string for labels that are unusable.
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" || strings.ContainsAny(host, " \t\n") {
		return ""
	}
	return host
}
