package nats

import (
	"os"
	"path/filepath"
	"testing"

	natsgo "github.com/nats-io/nats.go"
)

func startJetStreamTestServer(t *testing.T) (*EmbeddedServer, *Client) {
	t.Helper()
	dataDir := filepath.Join(t.TempDir(), "jetstream")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	srv, err := NewEmbeddedServer(EmbeddedServerConfig{
		Port:      14322,
		JetStream: true,
		DataDir:   dataDir,
	})
	if err != nil {
		t.Fatalf("NewEmbeddedServer: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := NewClient(srv.URL())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(client.Close)

	return srv, client
}

func TestSetupStreamsCreatesOneStreamPerChannel(t *testing.T) {
	_, client := startJetStreamTestServer(t)

	sm, err := NewStreamManager(client.RawConn())
	if err != nil {
		t.Fatalf("NewStreamManager: %v", err)
	}
	if err := sm.SetupStreams(); err != nil {
		t.Fatalf("SetupStreams: %v", err)
	}

	for _, name := range []string{"DISCOVERY", "STATUS", "FINDINGS", "GOVERNANCE", "SENTINEL"} {
		info, err := sm.GetStreamInfo(name)
		if err != nil {
			t.Fatalf("GetStreamInfo(%s): %v", name, err)
		}
		if info.Config.Name != name {
			t.Errorf("stream %s: Config.Name = %s", name, info.Config.Name)
		}
	}
}

func TestSetupStreamsIsIdempotent(t *testing.T) {
	_, client := startJetStreamTestServer(t)

	sm, err := NewStreamManager(client.RawConn())
	if err != nil {
		t.Fatalf("NewStreamManager: %v", err)
	}
	if err := sm.SetupStreams(); err != nil {
		t.Fatalf("first SetupStreams: %v", err)
	}
	if err := sm.SetupStreams(); err != nil {
		t.Fatalf("second SetupStreams (update path): %v", err)
	}
}

func TestDeleteStreamRemovesIt(t *testing.T) {
	_, client := startJetStreamTestServer(t)

	sm, err := NewStreamManager(client.RawConn())
	if err != nil {
		t.Fatalf("NewStreamManager: %v", err)
	}
	if err := sm.SetupStreams(); err != nil {
		t.Fatalf("SetupStreams: %v", err)
	}
	if err := sm.DeleteStream("SENTINEL"); err != nil {
		t.Fatalf("DeleteStream: %v", err)
	}
	if _, err := sm.GetStreamInfo("SENTINEL"); err != natsgo.ErrStreamNotFound {
		t.Errorf("GetStreamInfo after delete = %v, want ErrStreamNotFound", err)
	}
}
