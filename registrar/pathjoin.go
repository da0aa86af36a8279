package registrar

import "strings"

// JoinHealthPath implements the exact health-path join rule:
//   - if h contains "://" it is already absolute: return it unchanged.
//   - trim trailing slashes from b, ensure both have a leading slash.
//   - if h == b or h starts with b+"/", h already includes the base: return h.
//   - otherwise return b+h.
func JoinHealthPath(basePath, healthPath string) string {
	if strings.Contains(healthPath, "://") {
		return healthPath
	}

	h := ensureLeadingSlash(healthPath)

	// A root (or empty) base path joins as the identity: h is already
	// leading-slashed, so b+h would otherwise double the slash.
	b := strings.TrimRight(basePath, "/")
	if b == "" {
		return h
	}
	b = ensureLeadingSlash(b)

	if h == b || strings.HasPrefix(h, b+"/") {
		return h
	}
	return b + h
}

func ensureLeadingSlash(s string) string {
	if s == "" {
		return "/"
	}
	if s[0] != '/' {
		return "/" + s
	}
	return s
}
