// Package secrets seals guest credentials before they reach disk.
//
// Submission payloads carry the initialization block of a new VM, which can
// include a root password or an authorized SSH key. The daemon never writes
// those to the result store in plaintext: payloads are sealed with age using
// a passphrase-derived scrypt key and armored so the stored rows stay
// printable text.
//
// Sealing is optional. A daemon without a configured passphrase passes
// payloads through untouched, which keeps development setups simple.
package secrets

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"
)

// Sealer encrypts and decrypts submission payloads with a shared passphrase.
// The zero value and a Sealer built from an empty passphrase are disabled
// and pass payloads through unchanged.
type Sealer struct {
	passphrase string
	workFactor int
}

// NewSealer returns a Sealer for the given passphrase. An empty passphrase
// yields a disabled Sealer.
func NewSealer(passphrase string) *Sealer {
	return &Sealer{passphrase: strings.TrimSpace(passphrase)}
}

// NewSealerFromFile reads the passphrase from the first non-empty,
// non-comment line of the file.
func NewSealerFromFile(path string) (*Sealer, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("passphrase file path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read passphrase %s: %w", path, err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return NewSealer(line), nil
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read passphrase %s: %w", path, err)
	}
	return nil, fmt.Errorf("passphrase file %s is empty", path)
}

// WithWorkFactor overrides the scrypt work factor used when sealing.
// Intended for tests; the age default applies when unset.
func (s *Sealer) WithWorkFactor(logN int) *Sealer {
	if s != nil {
		s.workFactor = logN
	}
	return s
}

// Enabled reports whether payloads will actually be encrypted.
func (s *Sealer) Enabled() bool {
	return s != nil && s.passphrase != ""
}

// Seal encrypts a payload into armored age ciphertext. Empty payloads and
// disabled Sealers pass the input through unchanged.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if !s.Enabled() || plaintext == "" {
		return plaintext, nil
	}
	recipient, err := age.NewScryptRecipient(s.passphrase)
	if err != nil {
		return "", fmt.Errorf("derive sealing key: %w", err)
	}
	if s.workFactor > 0 {
		recipient.SetWorkFactor(s.workFactor)
	}
	var buf bytes.Buffer
	armorWriter := armor.NewWriter(&buf)
	encWriter, err := age.Encrypt(armorWriter, recipient)
	if err != nil {
		return "", fmt.Errorf("seal payload: %w", err)
	}
	if _, err := io.WriteString(encWriter, plaintext); err != nil {
		return "", fmt.Errorf("seal payload: %w", err)
	}
	if err := encWriter.Close(); err != nil {
		return "", fmt.Errorf("seal payload: %w", err)
	}
	if err := armorWriter.Close(); err != nil {
		return "", fmt.Errorf("seal payload: %w", err)
	}
	return buf.String(), nil
}

// Open decrypts armored ciphertext produced by Seal. Input that does not
// carry the armor header is returned unchanged, so rows written before
// sealing was enabled stay readable.
func (s *Sealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	if !strings.HasPrefix(strings.TrimSpace(sealed), armor.Header) {
		return sealed, nil
	}
	if !s.Enabled() {
		return "", errors.New("payload is sealed but no passphrase is configured")
	}
	identity, err := age.NewScryptIdentity(s.passphrase)
	if err != nil {
		return "", fmt.Errorf("derive sealing key: %w", err)
	}
	reader, err := age.Decrypt(armor.NewReader(strings.NewReader(sealed)), identity)
	if err != nil {
		return "", fmt.Errorf("open payload: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("open payload: %w", err)
	}
	return string(plaintext), nil
}
