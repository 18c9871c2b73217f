package shell

import (
	"bufio"
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/cqkv/logkv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *logkv.DB {
	db, err := logkv.Open(t.TempDir(), logkv.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func run(t *testing.T, db *logkv.DB, input string) []string {
	var out bytes.Buffer
	require.NoError(t, New(db, strings.NewReader(input), &out, false).Run())
	return strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
}

func TestShell_SetGet(t *testing.T) {
	db := openStore(t)

	lines := run(t, db, "set a hello world\nget a\n")
	assert.Equal(t, []string{"-> OK", "-> hello world"}, lines)
}

func TestShell_Errors(t *testing.T) {
	db := openStore(t)

	lines := run(t, db, "get missing\nset onlykey\nfrobnicate\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "error: "+logkv.ErrKeyNotFound.Error(), lines[0])
	assert.Equal(t, "error: usage: set <key> <value>", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "error: unknown command"))
}

func TestShell_DeleteKeysStat(t *testing.T) {
	db := openStore(t)

	lines := run(t, db, "set b 2\nset a 1\n\nkeys\ndel b\nkeys\ncompact\nstat\n")
	assert.Equal(t, []string{
		"-> OK",
		"-> OK",
		"-> a b",
		"-> OK",
		"-> a",
		"-> OK",
		"-> keys=1 segments=2 disk=15 reclaimable=0",
	}, lines)
}

func TestShell_Exit(t *testing.T) {
	db := openStore(t)

	lines := run(t, db, "set a 1\nexit\nset b 2\n")
	assert.Equal(t, []string{"-> OK"}, lines)
	_, err := db.Get([]byte("b"))
	assert.Equal(t, logkv.ErrKeyNotFound, err)
}

func TestShell_Prompt(t *testing.T) {
	db := openStore(t)

	var out bytes.Buffer
	require.NoError(t, New(db, strings.NewReader("get a\n"), &out, true).Run())
	assert.Equal(t, prompt+"error: "+logkv.ErrKeyNotFound.Error()+"\n"+prompt, out.String())
}

func TestShell_LongValue(t *testing.T) {
	db := openStore(t)

	value := strings.Repeat("v", 200<<10)
	lines := run(t, db, "set big "+value+"\nget big\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "-> OK", lines[0])
	assert.Equal(t, "-> "+value, lines[1])
}

func TestShell_LineOverLimits(t *testing.T) {
	db := openStore(t)

	input := "set k " + strings.Repeat("v", 200) + "\n"
	var out bytes.Buffer
	err := New(db, strings.NewReader(input), &out, false, WithLimits(4, 16)).Run()
	assert.ErrorIs(t, err, bufio.ErrTooLong)
}
