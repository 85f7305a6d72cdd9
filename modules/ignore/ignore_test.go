package ignore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetHas28Members(t *testing.T) {
	require.Len(t, names, 28)
}

func TestMatchesPathSegmentWise(t *testing.T) {
	require.True(t, MatchesPath("src/node_modules/foo.js"))
	require.True(t, MatchesPath("node_modules/foo.js"))
	require.False(t, MatchesPath("src/main.py"))
}

func TestMatchesPathNotSubstring(t *testing.T) {
	// "node_modules_backup" must not match on substring.
	require.False(t, MatchesPath("node_modules_backup/foo.js"))
	require.False(t, MatchesPath("my.dist/file.txt"))
}

func TestMatchesPathDoesNotDropRealSourceDirs(t *testing.T) {
	// "bin" and "obj" are common real source directories, not part of the
	// ignore set; only the actual NO_GO members are dropped.
	require.False(t, MatchesPath("bin/deploy.sh"))
	require.False(t, MatchesPath("obj/Debug/app.dll"))
	require.True(t, MatchesPath("coverage/lcov.info"))
	require.True(t, MatchesPath("tmp/scratch.txt"))
	require.True(t, MatchesPath("__MACOSX/._file"))
	require.True(t, MatchesPath(".svelte-kit/output.js"))
	require.True(t, MatchesPath(".vercel/output.json"))
	require.True(t, MatchesPath(".pythonlibs/lib/foo.py"))
}

func TestGitAndOtbackupAreNotInGenericSet(t *testing.T) {
	require.False(t, Set(".git"))
	require.False(t, Set(".replit-takeout-otbackup"))
}
