package qr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"

	"ms-orders/internal/models"

	"github.com/skip2/go-qrcode"
)

type Generator struct {
	secret []byte
}

func NewGenerator(secret string) *Generator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &Generator{secret: hashed[:]}
}

// GenerateEncryptedQR renders the payload as an AES-encrypted QR PNG. Only
// holders of the secret (the entry scanner) can read the payload back.
func (g *Generator) GenerateEncryptedQR(payload models.QRPayload) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	encrypted, err := encryptAES(data, g.secret)
	if err != nil {
		return nil, err
	}

	return qrcode.Encode(encrypted, qrcode.Medium, 256)
}

// DecryptPayload reverses the encryption applied by GenerateEncryptedQR.
// Used by the entry scanner and by tests.
func (g *Generator) DecryptPayload(encoded string) (models.QRPayload, error) {
	var payload models.QRPayload

	ciphertext, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return payload, err
	}
	if len(ciphertext) < aes.BlockSize {
		return payload, errors.New("ciphertext too short")
	}

	block, err := aes.NewCipher(g.secret)
	if err != nil {
		return payload, err
	}

	iv := ciphertext[:aes.BlockSize]
	data := make([]byte, len(ciphertext)-aes.BlockSize)
	stream := cipher.NewCFBDecrypter(block, iv)
	stream.XORKeyStream(data, ciphertext[aes.BlockSize:])

	err = json.Unmarshal(data, &payload)
	return payload, err
}

// EncryptPayload is the encryption step without the QR rendering, exposed so
// tests can verify the round trip cheaply.
func (g *Generator) EncryptPayload(payload models.QRPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return encryptAES(data, g.secret)
}

func encryptAES(data []byte, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	ciphertext := make([]byte, aes.BlockSize+len(data))
	iv := ciphertext[:aes.BlockSize]

	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(ciphertext[aes.BlockSize:], data)

	return base64.URLEncoding.EncodeToString(ciphertext), nil
}
