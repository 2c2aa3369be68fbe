package cmd

import (
	"encoding/base64"
	"fmt"

	"github.com/formbot/formbot/pkg/secrets"
)

// NewCipher creates the cipher used to seal sensitive preset values. The key
// is base64-encoded 32 bytes; an empty key stores presets unencrypted.
func NewCipher(encodedKey string) (secrets.Cipher, error) {
	if encodedKey == "" {
		return secrets.Plaintext{}, nil
	}

	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decoding secrets key: %w", err)
	}

	return secrets.NewAESGCM(key)
}
