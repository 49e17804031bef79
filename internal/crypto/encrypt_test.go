package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHexKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestNewTokenEncryptor(t *testing.T) {
	tests := []struct {
		name    string
		hexKey  string
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid 32-byte key",
			hexKey: testHexKey,
		},
		{
			name:    "empty key",
			hexKey:  "",
			wantErr: true,
			errMsg:  "encryption key is required",
		},
		{
			name:    "invalid hex",
			hexKey:  "zz-not-hex",
			wantErr: true,
			errMsg:  "must be hex-encoded",
		},
		{
			name:    "wrong length",
			hexKey:  "0123456789abcdef",
			wantErr: true,
			errMsg:  "must be 32 bytes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewTokenEncryptor(tt.hexKey)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.Nil(t, enc)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, enc)
			}
		})
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewTokenEncryptor(testHexKey)
	require.NoError(t, err)

	tests := []struct {
		name      string
		plaintext string
	}{
		{name: "access token", plaintext: "ya29.access-token-value"},
		{name: "refresh token", plaintext: "1//0refresh-token+with/special=chars"},
		{name: "unicode content", plaintext: "token-éàü"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, nonce, err := enc.Encrypt(tt.plaintext)
			require.NoError(t, err)
			assert.NotEmpty(t, ciphertext)
			assert.NotEmpty(t, nonce)
			assert.NotEqual(t, []byte(tt.plaintext), ciphertext)

			decrypted, err := enc.Decrypt(ciphertext, nonce)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, decrypted)
		})
	}
}

func TestEncryptUsesFreshNonces(t *testing.T) {
	enc, err := NewTokenEncryptor(testHexKey)
	require.NoError(t, err)

	ciphertext1, nonce1, err := enc.Encrypt("same-token")
	require.NoError(t, err)
	ciphertext2, nonce2, err := enc.Encrypt("same-token")
	require.NoError(t, err)

	assert.NotEqual(t, nonce1, nonce2)
	assert.NotEqual(t, ciphertext1, ciphertext2)
}

func TestDecryptWithWrongNonceFails(t *testing.T) {
	enc, err := NewTokenEncryptor(testHexKey)
	require.NoError(t, err)

	ciphertext, _, err := enc.Encrypt("secret-token")
	require.NoError(t, err)
	_, wrongNonce, err := enc.Encrypt("other-token")
	require.NoError(t, err)

	_, err = enc.Decrypt(ciphertext, wrongNonce)
	assert.Error(t, err)
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	enc1, err := NewTokenEncryptor(testHexKey)
	require.NoError(t, err)
	enc2, err := NewTokenEncryptor("fedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210")
	require.NoError(t, err)

	ciphertext, nonce, err := enc1.Encrypt("secret-token")
	require.NoError(t, err)

	_, err = enc2.Decrypt(ciphertext, nonce)
	assert.Error(t, err)
}

func TestEncryptRejectsEmptyPlaintext(t *testing.T) {
	enc, err := NewTokenEncryptor(testHexKey)
	require.NoError(t, err)

	_, _, err = enc.Encrypt("")
	assert.Error(t, err)
}

func TestDecryptRejectsEmptyInputs(t *testing.T) {
	enc, err := NewTokenEncryptor(testHexKey)
	require.NoError(t, err)

	_, err = enc.Decrypt(nil, make([]byte, 12))
	assert.Error(t, err)

	_, err = enc.Decrypt([]byte("ciphertext"), nil)
	assert.Error(t, err)
}

func TestGenerateKey(t *testing.T) {
	key1, err := GenerateKey()
	require.NoError(t, err)
	assert.Len(t, key1, 64)

	key2, err := GenerateKey()
	require.NoError(t, err)
	assert.NotEqual(t, key1, key2)

	_, err = NewTokenEncryptor(key1)
	assert.NoError(t, err)
}
