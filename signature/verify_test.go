// Copyright 2024 Northern.tech AS
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

package signature

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"encoding/pem"
	"hash/crc32"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/FSEmbedded/fs-updater-lib-sub000/appbundle"
)

// testKeyAndCert generates a throwaway RSA key and self-signed certificate
// valid over [notBefore, notAfter], for exercising the verifier without a
// fixture checked into the tree.
func testKeyAndCert(t *testing.T, notBefore, notAfter time.Time) (*rsa.PrivateKey, *x509.Certificate) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test-signing-cert"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return key, cert
}

// buildSignedBundle writes a bundle file whose payload is signed with key
// using RSA-PSS/SHA-256, the scheme the verifier expects.
func buildSignedBundle(t *testing.T, key *rsa.PrivateKey, payload []byte, signingTime time.Time) string {
	t.Helper()

	digest := sha256.Sum256(payload)
	opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: crypto.SHA256}
	sig, err := rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest[:], opts)
	require.NoError(t, err)

	var buf bytes.Buffer
	header := make([]byte, 16)
	binary.BigEndian.PutUint64(header[0:8], uint64(len(payload)))
	binary.BigEndian.PutUint32(header[8:12], 1)
	binary.BigEndian.PutUint32(header[12:16], crc32.ChecksumIEEE(header[0:12]))
	buf.Write(header)
	buf.Write(payload)

	ts := make([]byte, 26)
	copy(ts, signingTime.UTC().Format("2006-01-02T15:04:05")+"Z")
	buf.Write(ts)
	buf.Write(sig)

	path := filepath.Join(t.TempDir(), "signed.bundle")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func Test_Verify_ValidSignatureWithinValidityWindow_Succeeds(t *testing.T) {
	signingTime := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	key, cert := testKeyAndCert(t, signingTime.Add(-24*time.Hour), signingTime.Add(24*time.Hour))

	path := buildSignedBundle(t, key, []byte("squashfs-payload"), signingTime)
	b, err := appbundle.Open(path)
	require.NoError(t, err)
	defer b.Close()

	ok, err := NewVerifier(cert).Verify(b)
	require.NoError(t, err)
	require.True(t, ok)
}

func Test_Verify_SigningTimeOutsideValidityWindow_Fails(t *testing.T) {
	signingTime := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	key, cert := testKeyAndCert(t, signingTime.Add(24*time.Hour), signingTime.Add(48*time.Hour))

	path := buildSignedBundle(t, key, []byte("squashfs-payload"), signingTime)
	b, err := appbundle.Open(path)
	require.NoError(t, err)
	defer b.Close()

	_, err = NewVerifier(cert).Verify(b)
	require.Error(t, err)
}

func Test_Verify_TamperedPayload_ReturnsFalse(t *testing.T) {
	signingTime := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	key, cert := testKeyAndCert(t, signingTime.Add(-24*time.Hour), signingTime.Add(24*time.Hour))

	path := buildSignedBundle(t, key, []byte("squashfs-payload"), signingTime)

	// Flip a byte inside the payload region after signing, simulating
	// corruption or tampering in transit.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[20] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0644))

	b, err := appbundle.Open(path)
	require.NoError(t, err)
	defer b.Close()

	ok, err := NewVerifier(cert).Verify(b)
	require.NoError(t, err)
	require.False(t, ok)
}

func Test_LoadKeyringCert_ParsesSystemConf(t *testing.T) {
	_, cert := testKeyAndCert(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))

	dir := t.TempDir()
	certPath := filepath.Join(dir, "keyring.pem")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(t, os.WriteFile(certPath, certPEM, 0644))

	systemConf := filepath.Join(dir, "system.conf")
	require.NoError(t, os.WriteFile(systemConf, []byte("[keyring]\npath=keyring.pem\n"), 0644))

	loaded, err := LoadKeyringCert(systemConf, dir)
	require.NoError(t, err)
	require.Equal(t, cert.SerialNumber, loaded.SerialNumber)
}
