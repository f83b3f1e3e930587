package docker

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"slices"
	"testing"

	"simorchestrator/internal/engine"

	"github.com/docker/go-connections/nat"
)

func frame(stream byte, payload string) []byte {
	header := make([]byte, 8)
	header[0] = stream
	binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
	return append(header, payload...)
}

func TestParseProgress(t *testing.T) {
	t.Parallel()
	tests := []struct {
		line string
		want float64
		ok   bool
	}{
		{"SIMTIME 42.5", 42.5, true},
		{"  SIMTIME 7 ", 7, true},
		{"SIMTIME abc", 0, false},
		{"simulation started", 0, false},
		{"SIMTIME", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			t.Parallel()
			got, ok := parseProgress(tt.line)
			if ok != tt.ok || got != tt.want {
				t.Errorf("parseProgress(%q) = %g, %v; want %g, %v", tt.line, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestReadFrames(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	buf.Write(frame(streamStdout, "SIMTIME 1\nSIMTIME 2\n"))
	buf.Write(frame(streamStderr, "warning: slow step\r\n"))
	buf.Write(frame(streamStdout, ""))
	buf.Write(frame(streamStdout, "SIMTIME 3"))

	type entry struct {
		stream byte
		line   string
	}
	var got []entry
	if err := readFrames(&buf, func(stream byte, line string) {
		got = append(got, entry{stream, line})
	}); err != nil {
		t.Fatalf("readFrames failed: %v", err)
	}

	want := []entry{
		{streamStdout, "SIMTIME 1"},
		{streamStdout, "SIMTIME 2"},
		{streamStderr, "warning: slow step"},
		{streamStdout, "SIMTIME 3"},
	}
	if !slices.Equal(got, want) {
		t.Errorf("readFrames() = %v, want %v", got, want)
	}
}

func TestReadFramesTruncated(t *testing.T) {
	t.Parallel()
	data := frame(streamStdout, "SIMTIME 1")
	if err := readFrames(bytes.NewReader(data[:len(data)-2]), func(byte, string) {}); err == nil {
		t.Error("expected error for truncated payload")
	}
}

func TestContainerEnv(t *testing.T) {
	t.Parallel()
	env := containerEnv(engine.Parameters{
		RunID:     "r1",
		ModelName: "harbour",
		Engine:    json.RawMessage(`{"stopTime":10}`),
	})

	want := []string{
		"SIM_RUN_ID=r1",
		"SIM_MODEL_NAME=harbour",
		`SIM_ENGINE_PARAMETERS={"stopTime":10}`,
	}
	if !slices.Equal(env, want) {
		t.Errorf("containerEnv() = %v, want %v", env, want)
	}
}

func TestContainerSpec(t *testing.T) {
	t.Parallel()
	e := &Engine{cfg: Config{Image: "sim-worker:latest"}}

	img, cmd := e.containerSpec(json.RawMessage(`{"image":"custom:1","command":["sleep","5"]}`))
	if img != "custom:1" || !slices.Equal(cmd, []string{"sleep", "5"}) {
		t.Errorf("Expected custom:1 [sleep 5], got %q %v", img, cmd)
	}
	if img, cmd := e.containerSpec(json.RawMessage(`{"stopTime":1}`)); img != "sim-worker:latest" || cmd != nil {
		t.Errorf("Expected default image without command, got %q %v", img, cmd)
	}
	if img, _ := e.containerSpec(nil); img != "sim-worker:latest" {
		t.Errorf("Expected default image, got %q", img)
	}
}

func TestHostPort(t *testing.T) {
	t.Parallel()
	port := nat.Port("8080/tcp")
	ports := nat.PortMap{port: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "49153"}}}

	if got, ok := hostPort(ports, port); !ok || got != 49153 {
		t.Errorf("hostPort() = %d, %v", got, ok)
	}
	if _, ok := hostPort(ports, nat.Port("9090/tcp")); ok {
		t.Error("expected no binding for unpublished port")
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()
	cfg := Config{}.withDefaults()
	if cfg.Image != "sim-worker:latest" {
		t.Errorf("Expected default image, got %q", cfg.Image)
	}
	if cfg.StopTimeout <= 0 {
		t.Error("Expected positive stop timeout")
	}
}
