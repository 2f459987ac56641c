package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geminichat/core/history"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "geminichat "+version+"\n", out.String())
}

func TestAskCommand_RequiresAPIKey(t *testing.T) {
	clearEnv(t)
	cmd := newRootCmd()
	cmd.SetArgs([]string{"ask", "--config", filepath.Join(t.TempDir(), "none.toml"), "hello"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestHistoryCommand(t *testing.T) {
	clearEnv(t)
	dbPath := filepath.Join(t.TempDir(), "h.db")
	t.Setenv("GEMINICHAT_HISTORY_PATH", dbPath)

	store, err := history.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Save(t.Context(), &history.Conversation{
		UserID: "u1", Prompt: "Hello\nthere", Response: "Hi", Type: "chat", CreatedAt: time.Now(),
	}))
	require.NoError(t, store.Close())

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"history", "--config", filepath.Join(t.TempDir(), "none.toml"), "--user", "u1"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Hello there")
	assert.Contains(t, out.String(), "chat")

	out.Reset()
	cmd = newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"history", "--config", filepath.Join(t.TempDir(), "none.toml"), "--user", "nobody"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "no conversations\n", out.String())
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine("a\n b\tc", 10))
	assert.Equal(t, "abcd…", oneLine("abcdefgh", 5))
}
