package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealAndOpenSession(t *testing.T) {
	in := session{
		Homeserver:  "https://matrix.example.org",
		UserID:      "@bot:example.org",
		DeviceID:    "DEVICE",
		AccessToken: "syt_token",
	}
	sealed, err := sealSession(in, "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "syt_token")

	out, err := openSession(sealed, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = openSession(sealed, "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrong password")
}

func TestOpenSession_Rejects(t *testing.T) {
	_, err := openSession([]byte("not json"), "pw")
	require.Error(t, err)

	_, err = openSession([]byte(`{"homeserver":"h","encrypted_data":"AAAA"}`), "pw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no salt")
}
