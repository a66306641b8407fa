package statsd

import (
	"net"
	"strings"
	"testing"
	"time"
)

func TestNormalizeMetricName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		" job/duration ": "job_duration",
		"job..claimed":   "job.claimed",
		".triage.":       "triage",
		"":               "",
	}
	for input, want := range tests {
		if got := normalizeMetricName(input); got != want {
			t.Fatalf("normalizeMetricName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestFormatTags(t *testing.T) {
	t.Parallel()

	global := map[string]string{"env": "prod", " service ": " triage "}
	local := map[string]string{"result": " success ", "": "ignored", "env": "stage"}

	if got, want := formatTags(global, local), "|#env:stage,result:success,service:triage"; got != want {
		t.Fatalf("formatTags = %q, want %q", got, want)
	}
	if got := formatTags(nil, nil); got != "" {
		t.Fatalf("formatTags(nil, nil) = %q, want empty", got)
	}
}

func TestClientWritesLines(t *testing.T) {
	t.Parallel()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("udp listen unavailable: %v", err)
	}
	defer pc.Close()

	client, err := NewClient(Config{
		Enabled:    true,
		Address:    pc.LocalAddr().String(),
		Prefix:     "mindcare.",
		GlobalTags: map[string]string{"env": "test"},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	client.Count("job.transition", 1, map[string]string{"result": "success"})
	client.Timing("job.duration", 1500*time.Microsecond, nil)

	buf := make([]byte, 512)
	var lines []string
	for range 2 {
		_ = pc.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _, readErr := pc.ReadFrom(buf)
		if readErr != nil {
			t.Fatalf("read: %v", readErr)
		}
		lines = append(lines, string(buf[:n]))
	}
	joined := strings.Join(lines, "\n")
	for _, want := range []string{
		"mindcare.job.transition:1|c|#env:test,result:success",
		"mindcare.job.duration:1.5|ms|#env:test",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing %q in %q", want, joined)
		}
	}
}

func TestClientDisabledAndClose(t *testing.T) {
	t.Parallel()

	client, err := NewClient(Config{Enabled: true, Address: "   "})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	if client.Enabled() {
		t.Fatal("expected client to stay disabled when address is empty")
	}
	client.Count("ignored", 1, nil)
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var nilClient *Client
	nilClient.Gauge("ignored", 1, nil)
	if nilClient.Enabled() || nilClient.Close() != nil {
		t.Fatal("nil client should be a disabled no-op")
	}
}

func TestNewClientDialError(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{Enabled: true, Address: "bad address"})
	if err == nil || !strings.Contains(err.Error(), "statsd dial") {
		t.Fatalf("expected dial error, got %v", err)
	}
}
