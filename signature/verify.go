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
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"time"

	"github.com/minio/sha256-simd"
	"github.com/pkg/errors"

	"github.com/FSEmbedded/fs-updater-lib-sub000/appbundle"
	"github.com/FSEmbedded/fs-updater-lib-sub000/errkind"
)

// Verifier checks an appbundle.Bundle's detached signature against a
// pinned certificate, following the EMSA4 (RSA-PSS/SHA-256) scheme named
// in §4.6.
type Verifier struct {
	cert *x509.Certificate
}

func NewVerifier(cert *x509.Certificate) *Verifier {
	return &Verifier{cert: cert}
}

// Verify streams b's payload through SHA-256, checks the bundle's signing
// time falls within the certificate's validity window, and verifies the
// RSA-PSS signature over the resulting digest.
func (v *Verifier) Verify(b *appbundle.Bundle) (bool, error) {
	pub, ok := v.cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return false, errkind.New(errkind.CryptoBackendError, "", errors.New("signature: certificate does not carry an RSA public key"))
	}

	signingTime, err := b.SigningTime()
	if err != nil {
		return false, err
	}
	if err := checkValidityWindow(v.cert, signingTime); err != nil {
		return false, err
	}

	digest, err := hashPayload(b)
	if err != nil {
		return false, err
	}

	sig, err := b.Signature()
	if err != nil {
		return false, err
	}

	opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: crypto.SHA256}
	if err := rsa.VerifyPSS(pub, crypto.SHA256, digest, sig, opts); err != nil {
		return false, nil
	}
	return true, nil
}

func checkValidityWindow(cert *x509.Certificate, signingTime time.Time) error {
	if signingTime.Before(cert.NotBefore) || signingTime.After(cert.NotAfter) {
		return errkind.New(errkind.CertExpired, "", errors.Errorf(
			"signature: signing time %s outside certificate validity [%s, %s]",
			signingTime, cert.NotBefore, cert.NotAfter))
	}
	return nil
}

func hashPayload(b *appbundle.Bundle) ([]byte, error) {
	h := sha256.New()
	err := b.ReadPayload(8*1024, func(chunk []byte) error {
		_, werr := h.Write(chunk)
		return werr
	})
	if err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}
