package history

import (
	"context"
	"encoding/json"
	"hash/crc32"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hackclub/replit-lifeboat/modules/rpcsession"
	"github.com/stretchr/testify/require"
)

func crc32Of(s string) uint32 {
	return crc32.ChecksumIEEE([]byte(s))
}

// fakeFile describes one path's canned OT behavior for the fake ot
// service: its initial Otstatus, its link response (if unlinked), and the
// packets a fetch request should return.
type fakeFile struct {
	linked  bool
	version uint32
	packets []rpcsession.OtPacketWire
}

func u32(n uint32) *uint32 { return &n }
func str(s string) *string { return &s }

func startFakeOtService(t *testing.T, files map[string]fakeFile) string {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		go func() {
			boot, _ := rpcsession.EncodeFrame(0, 0, rpcsession.TagBootStatus, &rpcsession.BootStatus{Stage: rpcsession.BootStatusComplete})
			_ = conn.WriteMessage(websocket.BinaryMessage, boot)

			channelPaths := map[uint32]string{}
			var nextChannel uint32 = 1

			for {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					return
				}
				env, err := rpcsession.DecodeFrame(raw)
				if err != nil {
					continue
				}
				switch env.Tag {
				case rpcsession.TagOpenChannel:
					req := env.Body.(*rpcsession.OpenChannel)
					id := nextChannel
					nextChannel++
					path := strings.TrimPrefix(req.PersistentID, "ot:")
					channelPaths[id] = path

					out, _ := rpcsession.EncodeFrame(0, env.RefID, rpcsession.TagOpenChannelRes, &rpcsession.OpenChannelRes{ID: id})
					_ = conn.WriteMessage(websocket.BinaryMessage, out)

					f := files[path]
					var linkedFile *rpcsession.FileRef
					if f.linked {
						linkedFile = &rpcsession.FileRef{Path: path}
					}
					status, _ := rpcsession.EncodeFrame(id, 0, rpcsession.TagOtstatus, &rpcsession.Otstatus{LinkedFile: linkedFile, Version: f.version})
					_ = conn.WriteMessage(websocket.BinaryMessage, status)
				case rpcsession.TagOtLinkFile:
					path := channelPaths[env.ChannelID]
					f := files[path]
					out, _ := rpcsession.EncodeFrame(env.ChannelID, env.RefID, rpcsession.TagOtLinkFileResponse, &rpcsession.OtLinkFileResponse{Version: f.version})
					_ = conn.WriteMessage(websocket.BinaryMessage, out)
				case rpcsession.TagOtFetchRequest:
					path := channelPaths[env.ChannelID]
					f := files[path]
					out, _ := rpcsession.EncodeFrame(env.ChannelID, env.RefID, rpcsession.TagOtFetchResponse, &rpcsession.OtFetchResponse{Packets: f.packets})
					_ = conn.WriteMessage(websocket.BinaryMessage, out)
				}
			}
		}()
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func newSession(t *testing.T, ctx context.Context, files map[string]fakeFile) *rpcsession.Session {
	url := startFakeOtService(t, files)
	session, err := rpcsession.Connect(ctx, url, "tok")
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Destroy() })
	require.NoError(t, session.WaitBoot(ctx))
	return session
}

func withCommitted(seconds int64) struct {
	Seconds int64 `json:"seconds"`
} {
	return struct {
		Seconds int64 `json:"seconds"`
	}{Seconds: seconds}
}

// S1: a file with version 0 (never edited) writes an empty ot log and no
// staging snapshot.
func TestHistoryZeroVersionFile(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	files := map[string]fakeFile{
		"empty.txt": {linked: true, version: 0},
	}
	session := newSession(t, ctx, files)
	dir := t.TempDir()
	f := New(session, dir, 0, 3600, 2)

	paths := make(chan string, 1)
	paths <- "empty.txt"
	close(paths)
	require.NoError(t, f.Run(ctx, paths))

	got, err := os.ReadFile(filepath.Join(dir, "ot", "empty.txt"))
	require.NoError(t, err)
	require.Equal(t, "[]", string(got))

	_, err = os.Stat(filepath.Join(dir, "staging"))
	require.True(t, os.IsNotExist(err))
}

// S2: a single insert lands in one bucket's snapshot.
func TestHistorySingleInsertOneBucket(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	origin := int64(1000)
	packet := rpcsession.OtPacketWire{
		Op:        []rpcsession.OtOpComponent{{Insert: str("hi")}},
		Crc32:     crc32Of("hi"),
		Committed: withCommitted(origin + 10),
		Version:   1,
	}
	files := map[string]fakeFile{
		"a.txt": {linked: true, version: 1, packets: []rpcsession.OtPacketWire{packet}},
	}
	session := newSession(t, ctx, files)
	dir := t.TempDir()
	f := New(session, dir, origin, 3600, 2)

	paths := make(chan string, 1)
	paths <- "a.txt"
	close(paths)
	require.NoError(t, f.Run(ctx, paths))

	entries, err := os.ReadDir(filepath.Join(dir, "staging"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got, err := os.ReadFile(filepath.Join(dir, "staging", entries[0].Name(), "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "hi", string(got))

	log, err := os.ReadFile(filepath.Join(dir, "ot", "a.txt"))
	require.NoError(t, err)
	var decoded []normalizedLogEntry
	require.NoError(t, json.Unmarshal(log, &decoded))
	require.Len(t, decoded, 1)
}

// S3: an insert then a delete an hour later lands in two buckets.
func TestHistoryTwoBuckets(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	origin := int64(0)
	insert := rpcsession.OtPacketWire{
		Op:        []rpcsession.OtOpComponent{{Insert: str("hello")}},
		Crc32:     crc32Of("hello"),
		Committed: withCommitted(0),
		Version:   1,
	}
	del := rpcsession.OtPacketWire{
		Op:        []rpcsession.OtOpComponent{{Skip: u32(0)}, {Delete: u32(5)}},
		Crc32:     crc32Of(""),
		Committed: withCommitted(3600),
		Version:   2,
	}
	files := map[string]fakeFile{
		"b.txt": {linked: true, version: 2, packets: []rpcsession.OtPacketWire{insert, del}},
	}
	session := newSession(t, ctx, files)
	dir := t.TempDir()
	f := New(session, dir, origin, 3600, 2)

	paths := make(chan string, 1)
	paths <- "b.txt"
	close(paths)
	require.NoError(t, f.Run(ctx, paths))

	entries, err := os.ReadDir(filepath.Join(dir, "staging"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

// S4: a CRC mismatch mid-stream aborts only that file's remaining
// bucketing; the ot log only contains packets applied before the failure.
func TestHistoryCrcMismatchAbortsFile(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	good := rpcsession.OtPacketWire{
		Op:        []rpcsession.OtOpComponent{{Insert: str("ok")}},
		Crc32:     crc32Of("ok"),
		Committed: withCommitted(0),
		Version:   1,
	}
	bad := rpcsession.OtPacketWire{
		Op:        []rpcsession.OtOpComponent{{Insert: str("!")}},
		Crc32:     0xDEADBEEF,
		Committed: withCommitted(1),
		Version:   2,
	}
	files := map[string]fakeFile{
		"c.txt": {linked: true, version: 2, packets: []rpcsession.OtPacketWire{good, bad}},
	}
	session := newSession(t, ctx, files)
	dir := t.TempDir()
	f := New(session, dir, 0, 3600, 2)

	paths := make(chan string, 1)
	paths <- "c.txt"
	close(paths)
	require.NoError(t, f.Run(ctx, paths))

	log, err := os.ReadFile(filepath.Join(dir, "ot", "c.txt"))
	require.NoError(t, err)
	var decoded []normalizedLogEntry
	require.NoError(t, json.Unmarshal(log, &decoded))
	require.Len(t, decoded, 1)

	got, err := os.ReadFile(filepath.Join(dir, "staging", formatBucket(0), "c.txt"))
	require.NoError(t, err)
	require.Equal(t, "ok", string(got))
}

// TestHistoryLinksUnlinkedFile exercises the OtLinkFile round trip when
// Otstatus arrives with no linked_file.
func TestHistoryLinksUnlinkedFile(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	files := map[string]fakeFile{
		"d.txt": {linked: false, version: 0},
	}
	session := newSession(t, ctx, files)
	dir := t.TempDir()
	f := New(session, dir, 0, 3600, 2)

	paths := make(chan string, 1)
	paths <- "d.txt"
	close(paths)
	require.NoError(t, f.Run(ctx, paths))

	got, err := os.ReadFile(filepath.Join(dir, "ot", "d.txt"))
	require.NoError(t, err)
	require.Equal(t, "[]", string(got))
}
