package keys

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"gridexecutor/src/security"
)

func envValue(t *testing.T, out, name string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimPrefix(line, "cmd> ")
		if v, ok := strings.CutPrefix(line, name+"="); ok {
			return v
		}
	}
	t.Fatalf("%s not printed in %q", name, out)
	return ""
}

func TestEncryptPrintsEnvLines(t *testing.T) {
	var out bytes.Buffer
	k := &Keys{Out: &out}
	require.NoError(t, k.Encrypt("key", "secret"))

	plain, err := security.DecryptString(envValue(t, out.String(), "EXCHANGE_API_KEY"))
	require.NoError(t, err)
	require.Equal(t, "key", plain)

	plain, err = security.DecryptString(envValue(t, out.String(), "EXCHANGE_API_SECRET"))
	require.NoError(t, err)
	require.Equal(t, "secret", plain)
}

func TestStartRunsCommands(t *testing.T) {
	enc, err := security.EncryptString("hello")
	require.NoError(t, err)

	var out bytes.Buffer
	k := &Keys{
		In:  strings.NewReader("help\n\nset_key a b\ndecrypt " + enc + "\ndecrypt bogus\nfrobnicate\nshutdown\nencrypt never\n"),
		Out: &out,
	}
	require.NoError(t, k.Start())

	got := out.String()
	require.Contains(t, got, "Available commands:")
	require.Contains(t, got, "EXCHANGE_API_KEY=")
	require.Contains(t, got, "hello\n")
	require.Contains(t, got, "decrypt failed:")
	require.Contains(t, got, `unknown command "frobnicate"`)
	require.Contains(t, got, "Exiting CLI...")
}

func TestStartStopsAtEOF(t *testing.T) {
	var out bytes.Buffer
	k := &Keys{In: strings.NewReader("help\n"), Out: &out}
	require.NoError(t, k.Start())
}
