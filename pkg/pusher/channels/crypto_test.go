package channels

import (
	"crypto/rand"
	"testing"

	"golang.org/x/crypto/nacl/secretbox"
)

func sealFixture(t *testing.T, key []byte, plaintext []byte) ([nonceSize]byte, []byte) {
	t.Helper()
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	var k [keySize]byte
	copy(k[:], key)
	ciphertext := secretbox.Seal(nil, plaintext, &nonce, &k)
	return nonce, ciphertext
}
