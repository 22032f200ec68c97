package memengine

import (
	"crypto/rand"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"

	"vaultnotes/client/internal/engine"
)

// keyCheckMarker is what gets sealed under the passcode-derived key; opening
// it successfully is the unlock test.
var keyCheckMarker = []byte("vaultnotes-key-check")

func deriveKey(passcode string, salt []byte) [32]byte {
	var key [32]byte
	copy(key[:], argon2.IDKey([]byte(passcode), salt, 1, 64*1024, 4, 32))
	return key
}

func newKey() [32]byte {
	var key [32]byte
	_, _ = rand.Read(key[:])
	return key
}

func seal(key [32]byte, plaintext []byte) []byte {
	var nonce [24]byte
	_, _ = rand.Read(nonce[:])
	return secretbox.Seal(nonce[:], plaintext, &nonce, &key)
}

func open(key [32]byte, ciphertext []byte) ([]byte, bool) {
	if len(ciphertext) < 24 {
		return nil, false
	}
	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])
	return secretbox.Open(nil, ciphertext[24:], &nonce, &key)
}

func newUserRecord(identity engine.UserIdentity, passcode string) *userRecord {
	salt := make([]byte, 16)
	_, _ = rand.Read(salt)
	return &userRecord{
		identity:         identity,
		salt:             salt,
		keyCheck:         seal(deriveKey(passcode, salt), keyCheckMarker),
		deviceAuthorized: true,
	}
}

// unlock reports whether the passcode derives the key the check was sealed
// with.
func (u *userRecord) unlock(passcode string) bool {
	_, ok := open(deriveKey(passcode, u.salt), u.keyCheck)
	return ok
}

// reseal re-derives the key check under a new salt and passcode.
func (u *userRecord) reseal(passcode string) {
	salt := make([]byte, 16)
	_, _ = rand.Read(salt)
	u.salt = salt
	u.keyCheck = seal(deriveKey(passcode, salt), keyCheckMarker)
}
