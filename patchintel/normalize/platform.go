package normalize

import "strings"

// PlatformNames are the vendor and product components derived from a CPE
// identifier. Either may be nil when the identifier does not carry it.
type PlatformNames struct {
	Vendor  *string
	Product *string
}

// ParsePlatform derives vendor and product names from a CPE 2.2 URI
// ("cpe:/o:microsoft:windows_10:22h2") or a CPE 2.3 formatted string
// ("cpe:2.3:o:microsoft:windows_10:22h2:*:*:*:*:*:*:*"). Other strings yield
// empty names.
func ParsePlatform(identifier string) PlatformNames {
	lower := strings.ToLower(identifier)

	var body string
	switch {
	case strings.HasPrefix(lower, "cpe:2.3:"):
		body = identifier[len("cpe:2.3:"):]
	case strings.HasPrefix(lower, "cpe:/"):
		body = identifier[len("cpe:/"):]
	default:
		return PlatformNames{}
	}

	// parts: part, vendor, product, version, ...
	parts := splitCPE(body)
	var names PlatformNames
	if len(parts) > 1 {
		names.Vendor = cpeComponent(parts[1])
	}
	if len(parts) > 2 {
		names.Product = cpeComponent(parts[2])
	}
	return names
}

// splitCPE splits on ':' while honoring CPE 2.3 backslash escapes.
func splitCPE(s string) []string {
	var parts []string
	var cur strings.Builder
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ':':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(parts, cur.String())
}

func cpeComponent(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" || s == "-" {
		return nil
	}
	return &s
}
