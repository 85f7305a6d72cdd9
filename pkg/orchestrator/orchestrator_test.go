package orchestrator

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hackclub/replit-lifeboat/modules/rpcsession"
	"github.com/hackclub/replit-lifeboat/pkg/gitbuild"
	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not on PATH")
	}
}

// fakeRepl models a tiny repl served by the combined gcsfiles/ot/secrets
// fake backend: one file, unlinked, with no OT history at all (mirrors
// spec.md's S1 scenario).
var fakeRepl = map[string]string{
	"hello.txt": "hi there",
}

func startFakeCrosis(t *testing.T) string {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		go serveFakeCrosis(t, conn)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func serveFakeCrosis(t *testing.T, conn *websocket.Conn) {
	boot, _ := rpcsession.EncodeFrame(0, 0, rpcsession.TagBootStatus, &rpcsession.BootStatus{Stage: rpcsession.BootStatusComplete})
	_ = conn.WriteMessage(websocket.BinaryMessage, boot)

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

			out, _ := rpcsession.EncodeFrame(0, env.RefID, rpcsession.TagOpenChannelRes, &rpcsession.OpenChannelRes{ID: id})
			_ = conn.WriteMessage(websocket.BinaryMessage, out)

			if req.Service == "ot" {
				status, _ := rpcsession.EncodeFrame(id, 0, rpcsession.TagOtstatus, &rpcsession.Otstatus{Version: 0})
				_ = conn.WriteMessage(websocket.BinaryMessage, status)
			}
		case rpcsession.TagReaddir:
			req := env.Body.(*rpcsession.Readdir)
			var files []rpcsession.FileEntry
			if req.Path == "" {
				for name := range fakeRepl {
					files = append(files, rpcsession.FileEntry{Path: name, Type: rpcsession.FileTypeRegular})
				}
			}
			out, _ := rpcsession.EncodeFrame(env.ChannelID, env.RefID, rpcsession.TagFiles, &rpcsession.Files{Files: files})
			_ = conn.WriteMessage(websocket.BinaryMessage, out)
		case rpcsession.TagStat:
			req := env.Body.(*rpcsession.Stat)
			out, _ := rpcsession.EncodeFrame(env.ChannelID, env.RefID, rpcsession.TagStatRes, &rpcsession.StatRes{Size: int64(len(fakeRepl[req.Path]))})
			_ = conn.WriteMessage(websocket.BinaryMessage, out)
		case rpcsession.TagRead:
			req := env.Body.(*rpcsession.Read)
			out, _ := rpcsession.EncodeFrame(env.ChannelID, env.RefID, rpcsession.TagFile, &rpcsession.File{Content: []byte(fakeRepl[req.Path])})
			_ = conn.WriteMessage(websocket.BinaryMessage, out)
		case rpcsession.TagOtLinkFile:
			out, _ := rpcsession.EncodeFrame(env.ChannelID, env.RefID, rpcsession.TagOtLinkFileResponse, &rpcsession.OtLinkFileResponse{Version: 0})
			_ = conn.WriteMessage(websocket.BinaryMessage, out)
		case rpcsession.TagSecretsGetRequest:
			out, _ := rpcsession.EncodeFrame(env.ChannelID, env.RefID, rpcsession.TagSecretsGetResponse, &rpcsession.SecretsGetResponse{Contents: "SECRET=1\n"})
			_ = conn.WriteMessage(websocket.BinaryMessage, out)
		}
	}
}

func startFakeMetadata(t *testing.T, wsURL string) string {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"gatewayUrl":"` + wsURL + `","token":"tok"}`))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func testConfig() Config {
	return Config{
		MaxFileParallelism: 4,
		FileSizeCapBytes:   1 << 20,
		BucketWidthSeconds: 3600,
		Identity:           gitbuild.Identity{Name: "Replit Takeout", Email: "takeout@example.com"},
	}
}

func TestRunCrosisSucceedsAndBuildsGit(t *testing.T) {
	requireGit(t)
	wsURL := startFakeCrosis(t)
	metaURL := startFakeMetadata(t, wsURL)

	workDir := t.TempDir()
	o := New(testConfig(), http.DefaultClient)
	job := Job{
		AuthToken:   "tok",
		Repl:        Repl{ID: "r1", Slug: "my-repl", Username: "alice", CreatedAt: time.Unix(1000, 0)},
		UserEmail:   "alice@example.com",
		WorkingDir:  workDir,
		Timeout:     10 * time.Second,
		MetadataURL: metaURL,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := o.Run(ctx, job)
	require.NoError(t, err)
	require.Equal(t, StatusFull, result.Status)
	require.Equal(t, 1, result.FileCount)

	content, err := os.ReadFile(filepath.Join(workDir, "my-repl", "main", "hello.txt"))
	require.NoError(t, err)
	require.Equal(t, "hi there", string(content))

	env, err := os.ReadFile(filepath.Join(workDir, "my-repl", "main", ".env"))
	require.NoError(t, err)
	require.Equal(t, "SECRET=1\n", string(env))

	_, err = os.Stat(filepath.Join(workDir, "my-repl", "staging"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(workDir, "my-repl", "ot"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(workDir, "my-repl", "git"))
	require.True(t, os.IsNotExist(err))
}

func TestRunFallsBackOnBadMetadata(t *testing.T) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	fw, err := zw.Create("a.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("fallback content"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	zipSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	t.Cleanup(zipSrv.Close)

	workDir := t.TempDir()
	// Simulate a partial tree left behind by a prior failed Crosis attempt;
	// the fallback must reset main/ rather than merge into it.
	stalemain := filepath.Join(workDir, "broken-repl", "main")
	require.NoError(t, os.MkdirAll(stalemain, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stalemain, "stale.txt"), []byte("leftover"), 0o644))

	o := New(testConfig(), http.DefaultClient)
	job := Job{
		AuthToken:      "tok",
		Repl:           Repl{ID: "r2", Slug: "broken-repl", Username: "bob", CreatedAt: time.Unix(1000, 0)},
		UserEmail:      "bob@example.com",
		WorkingDir:     workDir,
		Timeout:        5 * time.Second,
		MetadataURL:    "http://127.0.0.1:1/does-not-exist",
		FallbackZipURL: zipSrv.URL,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := o.Run(ctx, job)
	require.NoError(t, err)
	require.Equal(t, StatusNoHistory, result.Status)
	require.Equal(t, 1, result.FileCount)

	content, err := os.ReadFile(filepath.Join(workDir, "broken-repl", "main", "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "fallback content", string(content))

	_, err = os.Stat(filepath.Join(workDir, "broken-repl", "main", "stale.txt"))
	require.True(t, os.IsNotExist(err), "fallback must reset main/ before extracting")

	_, err = os.Stat(filepath.Join(workDir, "broken-repl", "staging"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(workDir, "broken-repl", "ot"))
	require.True(t, os.IsNotExist(err))
}

func TestResultOutcomeMapsTimedOutSeparatelyFromFailed(t *testing.T) {
	require.Equal(t, "timed_out_or_failed", outcomeLabel(Result{Status: StatusFailed, TimedOut: true}, Result{Status: StatusFailed}))
}

func outcomeLabel(timedOut, plain Result) string {
	if timedOut.Outcome() != plain.Outcome() {
		return "timed_out_or_failed"
	}
	return "same"
}
