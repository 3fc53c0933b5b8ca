//go:build integration

package integration

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// This test builds the real binary and exercises a full loopback demo:
// node serve with a discovery beacon, coordinator discovery, a dispatched
// run, and a status query.
//
// It is gated behind -tags=integration and DUELCTL_INTEGRATION=1 so a plain
// `go test ./...` stays hermetic.
func TestLoopback_DiscoverAndRun(t *testing.T) {
	if os.Getenv("DUELCTL_INTEGRATION") != "1" {
		t.Skip("set DUELCTL_INTEGRATION=1 to run")
	}

	tmp := t.TempDir()
	bin := filepath.Join(tmp, "duelctl")

	build := exec.Command("go", "build", "-o", bin, "duelctl/cmd/duelctl")
	build.Dir = moduleRoot(t)
	if out, err := build.CombinedOutput(); err != nil {
		t.Fatalf("build: %v\n%s", err, out)
	}

	controlPort := freePort(t)
	beaconPort := freePort(t)

	nodeCfg := filepath.Join(tmp, "node.yaml")
	writeFile(t, nodeCfg, fmt.Sprintf(`
node:
  name: loop-node
  listen: "127.0.0.1:%d"
  beacon_port: %d
  platform: snapdragon
  force_simulation: true
  assets_dir: %q
  base_durations_sec:
    snapdragon: 0.5
`, controlPort, beaconPort, filepath.Join(tmp, "assets")))

	coordCfg := filepath.Join(tmp, "coord.yaml")
	writeFile(t, coordCfg, fmt.Sprintf(`
coordinator:
  addresses: ["127.0.0.1"]
  beacon_port: %d
  comparison_sec: 30
`, beaconPort))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serve := exec.CommandContext(ctx, bin, "node", "serve", "--config", nodeCfg)
	var serveOut bytes.Buffer
	serve.Stdout = &serveOut
	serve.Stderr = &serveOut
	if err := serve.Start(); err != nil {
		t.Fatalf("node serve: %v", err)
	}
	defer func() { _ = serve.Wait() }()

	waitForPort(t, fmt.Sprintf("127.0.0.1:%d", controlPort), 10*time.Second)

	discover, err := exec.Command(bin, "discover", "--config", coordCfg).CombinedOutput()
	if err != nil {
		t.Fatalf("discover: %v\n%s\nserve log:\n%s", err, discover, serveOut.String())
	}
	if !strings.Contains(string(discover), "loop-node") {
		t.Fatalf("discover output:\n%s", discover)
	}

	run, err := exec.Command(bin, "run", "--config", coordCfg, "--prompt", "a mountain landscape", "--steps", "3").CombinedOutput()
	if err != nil {
		t.Fatalf("run: %v\n%s\nserve log:\n%s", err, run, serveOut.String())
	}
	if !strings.Contains(string(run), "completed") {
		t.Fatalf("run output:\n%s", run)
	}
	// A single node cannot win a comparison.
	if !strings.Contains(string(run), "no winner declared") {
		t.Fatalf("run output:\n%s", run)
	}

	status, err := exec.Command(bin, "status", "--node", fmt.Sprintf("127.0.0.1:%d", controlPort)).CombinedOutput()
	if err != nil {
		t.Fatalf("status: %v\n%s", err, status)
	}
	if !strings.Contains(string(status), "loop-node") {
		t.Fatalf("status output:\n%s", status)
	}
}

func moduleRoot(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	return filepath.Dir(filepath.Dir(wd))
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func waitForPort(t *testing.T, addr string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("%s never came up", addr)
}
