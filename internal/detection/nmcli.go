package detection

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"

	"github.com/yegors/ridscan/internal/permissions"
)

// CommandRunner runs an external command and returns its combined output
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// NmcliWifiSource reads the NetworkManager scan cache on Linux hosts. It never
// triggers a rescan, so it returns whatever the last periodic scan produced.
type NmcliWifiSource struct {
	gate *permissions.Gate
	path string
	run  CommandRunner
}

// NewNmcliWifiSource creates a source using the nmcli binary at path
// ("nmcli" resolves through $PATH)
func NewNmcliWifiSource(gate *permissions.Gate, path string) *NmcliWifiSource {
	if path == "" {
		path = "nmcli"
	}
	return &NmcliWifiSource{gate: gate, path: path, run: execRunner}
}

// ScanResults lists cached access points
func (s *NmcliWifiSource) ScanResults(ctx context.Context) ([]WifiResult, error) {
	if err := s.gate.Check(permissions.WiFi); err != nil {
		return nil, err
	}

	out, err := s.run(ctx, s.path, "-t", "-f", "SSID,BSSID", "dev", "wifi", "list", "--rescan", "no")
	if err != nil {
		return nil, classifyNmcliError(out, err)
	}

	return parseNmcliTerse(out), nil
}

func classifyNmcliError(out []byte, err error) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("nmcli not found: %w", ErrRadioUnavailable)
	}

	msg := strings.ToLower(string(bytes.TrimSpace(out)))
	switch {
	case strings.Contains(msg, "not authorized"), strings.Contains(msg, "insufficient privileges"):
		return &permissions.DeniedError{Kind: permissions.WiFi}
	case strings.Contains(msg, "wi-fi is disabled"),
		strings.Contains(msg, "no wi-fi device"),
		strings.Contains(msg, "networkmanager is not running"):
		return fmt.Errorf("%s: %w", msg, ErrRadioUnavailable)
	}
	if msg != "" {
		return fmt.Errorf("failed to list wifi networks: %s: %w", msg, err)
	}
	return fmt.Errorf("failed to list wifi networks: %w", err)
}

// parseNmcliTerse parses "SSID:BSSID" lines. In terse mode nmcli escapes ':'
// and '\' inside values with a backslash.
func parseNmcliTerse(out []byte) []WifiResult {
	results := make([]WifiResult, 0)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := splitTerse(line)
		if len(fields) < 2 {
			continue
		}
		results = append(results, WifiResult{SSID: fields[0], BSSID: fields[1]})
	}
	return results
}

func splitTerse(line string) []string {
	var (
		fields []string
		cur    strings.Builder
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\\' && i+1 < len(line):
			i++
			cur.WriteByte(line[i])
		case c == ':':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(fields, cur.String())
}
