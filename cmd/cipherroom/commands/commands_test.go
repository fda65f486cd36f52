package commands_test

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cipherroom/cmd/cipherroom/commands"
	"cipherroom/internal/directory"
	"cipherroom/internal/domain"
	"cipherroom/internal/testutil"
)

type cli struct {
	t    *testing.T
	home string
	user string
	url  string
}

func (c cli) run(stdin string, args ...string) string {
	c.t.Helper()
	v := viper.New()
	v.Set("home", c.home)
	v.Set("user", c.user)
	v.Set("device", c.user+"-dev")
	v.Set("passphrase", testutil.Passphrase)
	v.Set("directory_url", c.url)
	v.Set("store_backend", "file")
	v.Set("scrypt_cost", testutil.ScryptCost)
	v.Set("log_level", "error")

	cmd := commands.NewRootCmd(v)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	require.NoError(c.t, cmd.Execute(), "cipherroom %v", args)
	return out.String()
}

func TestRoomConversation(t *testing.T) {
	srv := httptest.NewServer(directory.NewServer(directory.NewRegistry()))
	defer srv.Close()

	root := t.TempDir()
	alice := cli{t: t, home: filepath.Join(root, "alice"), user: "alice", url: srv.URL}
	bob := cli{t: t, home: filepath.Join(root, "bob"), user: "bob", url: srv.URL}

	assert.Contains(t, alice.run("", "init"), "Fingerprint:")
	assert.Contains(t, bob.run("", "init"), "Fingerprint:")
	assert.Contains(t, alice.run("", "fingerprint"), "Fingerprint:")

	assert.Contains(t, alice.run("", "start-session", "bob"), "Session ready with bob.bob-dev")
	rotated := alice.run("", "room", "rotate", "general", "--member", "bob")
	assert.Contains(t, rotated, "version 1")
	assert.Contains(t, rotated, "delivered  bob.bob-dev")
	assert.Equal(t, "1\n", alice.run("", "room", "version", "general"))

	line := alice.run("", "encrypt", "general", "hello bob")
	var msg domain.EncryptedMessage
	require.NoError(t, json.Unmarshal([]byte(line), &msg))
	assert.Equal(t, domain.KeyVersion(1), msg.KeyVersion)

	out := bob.run(line+"not json\n", "decrypt")
	results := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, results, 2)

	var first struct {
		Plaintext string `json:"plaintext"`
		SenderID  string `json:"senderId"`
		Error     string `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(results[0]), &first))
	assert.Empty(t, first.Error)
	assert.Equal(t, "hello bob", first.Plaintext)
	assert.Equal(t, "alice", first.SenderID)

	var second struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
		Line  int    `json:"line"`
	}
	require.NoError(t, json.Unmarshal([]byte(results[1]), &second))
	assert.NotEmpty(t, second.Error)
	assert.Equal(t, domain.KindMalformedCiphertext.String(), second.Kind)
	assert.Equal(t, 2, second.Line)

	assert.Equal(t, "1\n", bob.run("", "room", "version", "general"))
}
