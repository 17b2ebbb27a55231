package process

import "strings"

// normalizeName lowercases an executable name and drops a trailing ".exe"
func normalizeName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	return strings.TrimSuffix(n, ".exe")
}

// baseName strips both slash styles so Wine paths like C:\Program Files\x.exe work
func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}
