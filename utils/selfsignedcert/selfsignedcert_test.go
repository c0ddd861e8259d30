package selfsignedcert

import (
	"crypto/x509"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCertificate(t *testing.T) {
	cert, err := GenerateCertificate("127.0.0.1", "node-a.local", "")
	require.NoError(t, err)
	require.NotNil(t, cert.Leaf)

	assert.Equal(t, []string{"node-a.local"}, cert.Leaf.DNSNames)
	require.Len(t, cert.Leaf.IPAddresses, 1)
	assert.True(t, cert.Leaf.IPAddresses[0].Equal(net.ParseIP("127.0.0.1")))

	pool := x509.NewCertPool()
	pool.AddCert(cert.Leaf)
	_, err = cert.Leaf.Verify(x509.VerifyOptions{
		DNSName: "node-a.local",
		Roots:   pool,
	})
	assert.NoError(t, err)
}
