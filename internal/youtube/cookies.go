package youtube

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DecodeCookies decodes the base64 encoded Netscape cookie jar and writes it
// to the path provided, returning the path. If no cookies are provided, an
// empty path is returned and nothing is written.
//
// Only the size of the jar is logged. Cookie values are credentials.
func DecodeCookies(encoded string, path string) (string, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return "", nil
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode YouTube cookies: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory for cookie file %s: %w", path, err)
	}
	if err := os.WriteFile(path, decoded, 0o600); err != nil {
		return "", fmt.Errorf("failed to write cookie file %s: %w", path, err)
	}

	lines := bytes.Count(decoded, []byte("\n"))
	if len(decoded) > 0 && !bytes.HasSuffix(decoded, []byte("\n")) {
		lines++
	}
	log.Infof("Wrote cookie file (%d bytes, %d lines) to %s\n", len(decoded), lines, path)

	return path, nil
}
