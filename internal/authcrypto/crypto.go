// Package authcrypto implements the cryptographic primitives for the
// two-phase authentication protocol in §4.5: AES-CBC session-key exchange
// with a zero IV, PBKDF2-HMAC-SHA512 key derivation, and optional RSA
// PKCS#1 v1.5 signing for IAM-token authentication.
package authcrypto

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// ErrInvalidIterationCount is returned when a PBKDF2 iteration count is
// less than 1 (§4.5: "If PBKDF2 iteration count < 1, the derivation
// function errors").
var ErrInvalidIterationCount = fmt.Errorf("authcrypto: PBKDF2 iteration count must be >= 1")

// VerifierKeySize maps an AUTH_VFR_DATA length to the AES key size the
// server selected, per the documented contract in spec.md §9 Open
// Question (b): 16 -> AES-128, 32 -> AES-256.
func VerifierKeySize(vfrDataLen int) (int, error) {
	switch vfrDataLen {
	case 16:
		return 16, nil
	case 32:
		return 32, nil
	default:
		return 0, fmt.Errorf("authcrypto: unsupported AUTH_VFR_DATA length %d", vfrDataLen)
	}
}

// derivedLength returns the total PBKDF2 output length for a given AES
// key size, per §4.5 ("length 64 or 96").
func derivedLength(keySize int) int {
	if keySize == 16 {
		return 64
	}
	return 96
}

// deriveDualKey runs PBKDF2-HMAC-SHA512 over the password and salt and
// splits the output into a high half (truncated to keySize and used as the
// AES key for session-key exchange) and a low half, returned as mixIn, per
// §4.5's "dual-key" description. DeriveSessionKey, the only caller, does
// not use mixIn.
func deriveDualKey(password, salt []byte, iterations, keySize int) (aesKey, mixIn []byte, err error) {
	if iterations < 1 {
		return nil, nil, ErrInvalidIterationCount
	}
	total := derivedLength(keySize)
	half := total / 2
	derived := pbkdf2.Key(password, salt, iterations, total, sha512.New)
	highHalf := derived[half:]
	aesKey = append([]byte(nil), highHalf[:keySize]...)
	mixIn = append([]byte(nil), derived[:half]...)
	return aesKey, mixIn, nil
}

// encryptCBCZeroIVPKCS7 encrypts plaintext under key with AES-CBC, a
// zero IV, and PKCS#7 padding — the scheme §4.5 specifies for password and
// new-password encryption.
func encryptCBCZeroIVPKCS7(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("authcrypto: creating AES cipher: %w", err)
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())
	iv := make([]byte, block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// decryptCBCZeroIVRaw decrypts exactly one or more full blocks of
// ciphertext under key with AES-CBC and a zero IV, with no padding removal
// — used for the server's session-key half, which is always exactly one
// key-size block.
func decryptCBCZeroIVRaw(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("authcrypto: creating AES cipher: %w", err)
	}
	if len(ciphertext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("authcrypto: ciphertext length %d not a multiple of block size %d", len(ciphertext), block.BlockSize())
	}
	iv := make([]byte, block.BlockSize())
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return out, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("authcrypto: cannot unpad empty buffer")
	}
	padLen := int(data[len(data)-1])
	if padLen <= 0 || padLen > len(data) {
		return nil, fmt.Errorf("authcrypto: invalid PKCS#7 padding")
	}
	return data[:len(data)-padLen], nil
}

func xorCyclic(a, b []byte) []byte {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = a[i%len(a)] ^ b[i%len(b)]
	}
	return out
}

// SessionKeyMaterial is the result of combining the client- and
// server-generated halves of the session key, and the encrypted form of
// the client half to send back to the server.
type SessionKeyMaterial struct {
	SessionKey          []byte // combined key used to encrypt the password
	EncryptedClientHalf []byte // sent to the server as AUTH_SESSKEY
}

// DeriveSessionKey implements the phase-two key exchange in §4.5:
//   - derive an AES key from the password via PBKDF2-HMAC-SHA512 (the
//     mix-in half of the derivation is not used)
//   - decrypt the server's session-key half (AUTH_SESSKEY) with that key
//   - generate a random client half of the same size
//   - combine the two halves by XOR to form the session key
//   - encrypt the client half under the derived key, for sending back
func DeriveSessionKey(password []byte, cskSalt []byte, vgenCount int, serverSessKeyCiphertext []byte, keySize int) (SessionKeyMaterial, error) {
	aesKey, _, err := deriveDualKey(password, cskSalt, vgenCount, keySize)
	if err != nil {
		return SessionKeyMaterial{}, err
	}

	serverHalf, err := decryptCBCZeroIVRaw(aesKey, serverSessKeyCiphertext)
	if err != nil {
		return SessionKeyMaterial{}, fmt.Errorf("authcrypto: decrypting server session-key half: %w", err)
	}

	clientHalf := make([]byte, keySize)
	if _, err := rand.Read(clientHalf); err != nil {
		return SessionKeyMaterial{}, fmt.Errorf("authcrypto: generating client session-key half: %w", err)
	}

	sessionKey := xorCyclic(serverHalf, clientHalf)

	encryptedClientHalf, err := encryptCBCZeroIVPKCS7(aesKey, clientHalf)
	if err != nil {
		return SessionKeyMaterial{}, fmt.Errorf("authcrypto: encrypting client session-key half: %w", err)
	}

	return SessionKeyMaterial{SessionKey: sessionKey, EncryptedClientHalf: encryptedClientHalf}, nil
}

// EncryptPassword encrypts a password (or new password) under the combined
// session key, CBC, zero IV, PKCS#7 padding, per §4.5.
func EncryptPassword(sessionKey, password []byte) ([]byte, error) {
	return encryptCBCZeroIVPKCS7(sessionKey, password)
}

// DecryptPassword reverses EncryptPassword; exposed for tests and for any
// caller validating round-trip behavior before sending a request.
func DecryptPassword(sessionKey, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(sessionKey)
	if err != nil {
		return nil, fmt.Errorf("authcrypto: creating AES cipher: %w", err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("authcrypto: ciphertext length %d not a multiple of block size", len(ciphertext))
	}
	iv := make([]byte, block.BlockSize())
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out)
}

// SignRSASHA256 signs payload with PKCS#1 v1.5 over SHA-256 using the RSA
// private key in PEM form, returning the base64-encoded signature, for
// IAM-token authentication (§4.5).
func SignRSASHA256(pemKey, payload []byte) (string, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return "", fmt.Errorf("authcrypto: no PEM block found in RSA key")
	}

	key, err := parseRSAPrivateKey(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("authcrypto: parsing RSA private key: %w", err)
	}

	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("authcrypto: signing with RSA key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

func parseRSAPrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("authcrypto: PKCS#8 key is not an RSA private key")
	}
	return rsaKey, nil
}
