// ABOUTME: Password generator module drawing from crypto/rand.

package modules

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/2389/toolshell/internal/registry"
)

const (
	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars  = "0123456789"
	symbolChars = "!@#$%^&*()-_=+[]{};:,.?"

	minPasswordLength     = 4
	maxPasswordLength     = 128
	defaultPasswordLength = 16
)

// PasswordGenerator produces random passwords.
type PasswordGenerator struct{}

type passwordInput struct {
	Length    int   `json:"length"`
	Uppercase *bool `json:"uppercase"`
	Digits    *bool `json:"digits"`
	Symbols   *bool `json:"symbols"`
	Copy      bool  `json:"copy"`
}

// Run generates one password. Every enabled character class appears at least once.
func (p *PasswordGenerator) Run(ctx context.Context, host registry.Host, input json.RawMessage) (json.RawMessage, error) {
	var in passwordInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}

	length := in.Length
	if length == 0 {
		length = defaultPasswordLength
	}
	if length < minPasswordLength || length > maxPasswordLength {
		return nil, invalid("length must be between %d and %d", minPasswordLength, maxPasswordLength)
	}

	classes := []string{lowerChars}
	if in.Uppercase == nil || *in.Uppercase {
		classes = append(classes, upperChars)
	}
	if in.Digits == nil || *in.Digits {
		classes = append(classes, digitChars)
	}
	if in.Symbols == nil || *in.Symbols {
		classes = append(classes, symbolChars)
	}

	password, err := generatePassword(length, classes)
	if err != nil {
		return nil, err
	}

	copied, copyErr := copyToClipboard(ctx, host, in.Copy, password)
	return json.Marshal(map[string]any{
		"password":   password,
		"length":     length,
		"copied":     copied,
		"copy_error": copyErr,
	})
}

func generatePassword(length int, classes []string) (string, error) {
	all := strings.Join(classes, "")
	out := make([]byte, 0, length)
	for _, class := range classes {
		c, err := randomChar(class)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < length {
		c, err := randomChar(all)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	// Fisher-Yates so the guaranteed characters are not always first.
	for i := len(out) - 1; i > 0; i-- {
		j, err := randomInt(i + 1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}

func randomChar(set string) (byte, error) {
	i, err := randomInt(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

func randomInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
