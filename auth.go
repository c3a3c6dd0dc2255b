// Copyright 2012 Apcera Inc. All rights reserved.

package nats

import (
	"encoding/base64"

	"github.com/nats-io/nkeys"
)

// b64RawURLEncode renders a signature the way the server expects it framed
// in CONNECT's "sig" field: unpadded, URL-safe base64.
func b64RawURLEncode(sig []byte) string {
	return base64.RawURLEncoding.EncodeToString(sig)
}

// NkeyPair builds a SignatureCB (for use with the Nkey option) that signs
// the server's nonce with the given seed-based nkeys.KeyPair. Grounded on
// the teacher's go.mod dependency on github.com/nats-io/nkeys, wired here
// per spec.md §4.1 step 9 ("if the INFO nonce is set, sign it") and the
// CONNECT "nkey"/"sig" fields in spec.md §6.
func NkeyPair(kp nkeys.KeyPair) func(nonce []byte) ([]byte, error) {
	return func(nonce []byte) ([]byte, error) {
		return kp.Sign(nonce)
	}
}
