package handlers

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const arpFixture = `IP address       HW type     Flags       HW address            Mask     Device
192.168.1.20     0x1         0x2         aa:bb:cc:dd:ee:ff     *        eth0
192.168.1.30     0x1         0x0         00:00:00:00:00:00     *        eth0
`

func withARPTable(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arp")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	orig := arpTablePath
	arpTablePath = path
	t.Cleanup(func() { arpTablePath = orig })
}

func TestLookupHardwareAddr(t *testing.T) {
	withARPTable(t, arpFixture)

	assert.Equal(t, "aa:bb:cc:dd:ee:ff", LookupHardwareAddr("192.168.1.20"))
	assert.Equal(t, "", LookupHardwareAddr("192.168.1.30"), "incomplete entries are ignored")
	assert.Equal(t, "", LookupHardwareAddr("10.0.0.1"))
}

func TestLookupHardwareAddr_NoTable(t *testing.T) {
	orig := arpTablePath
	arpTablePath = filepath.Join(t.TempDir(), "missing")
	defer func() { arpTablePath = orig }()

	assert.Equal(t, "", LookupHardwareAddr("192.168.1.20"))
}

func TestResolveOrigin(t *testing.T) {
	withARPTable(t, arpFixture)

	req := httptest.NewRequest("POST", "/downloads", nil)
	req.RemoteAddr = "192.168.1.20:40000"
	origin := ResolveOrigin(req)
	require.NotNil(t, origin)
	assert.Equal(t, "192.168.1.20", origin.RemoteAddr)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", origin.HardwareAddr)

	req.RemoteAddr = ""
	assert.Nil(t, ResolveOrigin(req))
}
