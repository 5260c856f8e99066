package detection

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/yegors/ridscan/internal/permissions"
)

func TestParseNmcliTerse(t *testing.T) {
	out := []byte("RID-1581F5FKD:60\\:60\\:1F\\:AA\\:BB\\:CC\n" +
		"Cafe\\\\Bar:00\\:11\\:22\\:33\\:44\\:55\n" +
		"\n" +
		":10\\:20\\:30\\:40\\:50\\:60\n" +
		"garbage\n")

	want := []WifiResult{
		{SSID: "RID-1581F5FKD", BSSID: "60:60:1F:AA:BB:CC"},
		{SSID: "Cafe\\Bar", BSSID: "00:11:22:33:44:55"},
		{SSID: "", BSSID: "10:20:30:40:50:60"},
	}
	if diff := cmp.Diff(want, parseNmcliTerse(out)); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestNmcliWifiSource(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		err     error
		wantIs  error
		wantLen int
	}{
		{"Success", "RID-1:AA\\:BB\n", nil, nil, 1},
		{"Binary missing", "", &exec.Error{Name: "nmcli", Err: exec.ErrNotFound}, ErrRadioUnavailable, 0},
		{"Not authorized", "Error: Not authorized to control networking.", errors.New("exit status 1"), permissions.ErrPermissionDenied, 0},
		{"Radio off", "Error: Wi-Fi is disabled.", errors.New("exit status 10"), ErrRadioUnavailable, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewNmcliWifiSource(permissions.NewGate(permissions.State{WiFi: true}), "")
			var gotArgs []string
			src.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
				gotArgs = append([]string{name}, args...)
				return []byte(tt.out), tt.err
			}

			results, err := src.ScanResults(context.Background())
			if tt.wantIs != nil {
				if !errors.Is(err, tt.wantIs) {
					t.Fatalf("Expected %v, got %v", tt.wantIs, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if len(results) != tt.wantLen {
				t.Errorf("Expected %d results, got %d", tt.wantLen, len(results))
			}
			if fmt.Sprint(gotArgs) != "[nmcli -t -f SSID,BSSID dev wifi list --rescan no]" {
				t.Errorf("Unexpected command %v", gotArgs)
			}
		})
	}

	t.Run("Gate closed", func(t *testing.T) {
		src := NewNmcliWifiSource(permissions.NewGate(permissions.State{}), "nmcli")
		src.run = func(context.Context, string, ...string) ([]byte, error) {
			t.Fatal("nmcli must not run without permission")
			return nil, nil
		}
		if _, err := src.ScanResults(context.Background()); !errors.Is(err, permissions.ErrPermissionDenied) {
			t.Errorf("Expected ErrPermissionDenied, got %v", err)
		}
	})
}
