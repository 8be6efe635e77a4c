package ipc

import (
	"bufio"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	original, had := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("setenv %s: %v", key, err)
	}
	t.Cleanup(func() {
		if !had {
			os.Unsetenv(key)
			return
		}
		os.Setenv(key, original)
	})
}

// serveOnce accepts one connection on a fresh socket under t.TempDir, hands
// the request line to respond and writes back its reply. Received lines are
// sent on the returned channel.
func serveOnce(t *testing.T, name string, respond func(line string) string) (string, <-chan []string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	listener, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })
	received := make(chan []string, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if respond == nil {
			data, _ := io.ReadAll(conn)
			received <- strings.Split(strings.TrimSpace(string(data)), "\n")
			return
		}
		line, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil {
			return
		}
		received <- []string{strings.TrimSpace(line)}
		io.WriteString(conn, respond(strings.TrimSpace(line)))
	}()
	return path, received
}
