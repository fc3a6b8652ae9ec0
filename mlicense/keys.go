package mlicense

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/youmark/pkcs8"
)

// DefaultKeyBits is the RSA modulus size for new signing keys.
const DefaultKeyBits = 2048

// PEM block types.
const (
	pemPrivateKey          = "PRIVATE KEY"
	pemRSAPrivateKey       = "RSA PRIVATE KEY"
	pemEncryptedPrivateKey = "ENCRYPTED PRIVATE KEY"
	pemPublicKey           = "PUBLIC KEY"
	pemRSAPublicKey        = "RSA PUBLIC KEY"
)

// KeygenOption configures GenerateKeyPair.
type KeygenOption func(*keygenConfig)

type keygenConfig struct {
	bits       int
	encoding   KeyEncoding
	passphrase []byte
}

// WithKeyBits sets the RSA modulus size. Default: 2048.
func WithKeyBits(bits int) KeygenOption {
	return func(c *keygenConfig) {
		c.bits = bits
	}
}

// WithEncoding selects the on-disk key encoding. Default: EncodingDER.
func WithEncoding(enc KeyEncoding) KeygenOption {
	return func(c *keygenConfig) {
		c.encoding = enc
	}
}

// WithPassphrase encrypts the private key with the given passphrase and
// switches the encoding to EncodingEncryptedPEM.
func WithPassphrase(passphrase []byte) KeygenOption {
	return func(c *keygenConfig) {
		c.passphrase = passphrase
		c.encoding = EncodingEncryptedPEM
	}
}

// GenerateKeyPair creates a new RSA signing key and serializes both halves.
func GenerateKeyPair(opts ...KeygenOption) (*KeyPair, error) {
	cfg := keygenConfig{
		bits:     DefaultKeyBits,
		encoding: EncodingDER,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.encoding == EncodingEncryptedPEM && len(cfg.passphrase) == 0 {
		return nil, fmt.Errorf("encrypted key encoding requires a passphrase")
	}

	key, err := rsa.GenerateKey(rand.Reader, cfg.bits)
	if err != nil {
		return nil, fmt.Errorf("generate RSA key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}

	kp := &KeyPair{Encoding: cfg.encoding}
	switch cfg.encoding {
	case EncodingDER:
		kp.PrivateKey = privDER
		kp.PublicKey = pubDER
	case EncodingPEM:
		kp.PrivateKey = pem.EncodeToMemory(&pem.Block{Type: pemPrivateKey, Bytes: privDER})
		kp.PublicKey = pem.EncodeToMemory(&pem.Block{Type: pemPublicKey, Bytes: pubDER})
	case EncodingEncryptedPEM:
		encDER, err := pkcs8.MarshalPrivateKey(key, cfg.passphrase, nil)
		if err != nil {
			return nil, fmt.Errorf("encrypt private key: %w", err)
		}
		kp.PrivateKey = pem.EncodeToMemory(&pem.Block{Type: pemEncryptedPrivateKey, Bytes: encDER})
		kp.PublicKey = pem.EncodeToMemory(&pem.Block{Type: pemPublicKey, Bytes: pubDER})
	default:
		return nil, fmt.Errorf("unknown key encoding %q", cfg.encoding)
	}
	return kp, nil
}

// KeyFileNames returns the private and public file names for an encoding.
func KeyFileNames(enc KeyEncoding) (private, public string) {
	if enc == EncodingDER {
		return "private_key.der", "public_key.der"
	}
	return "private_key.pem", "public_key.pem"
}

// WriteKeyPair writes kp into dir, creating dir with owner-only access.
// Existing key files are only replaced when overwrite is set.
func WriteKeyPair(fs afero.Fs, dir string, kp *KeyPair, overwrite bool) (privatePath, publicPath string, err error) {
	if kp == nil {
		return "", "", fmt.Errorf("key pair is nil")
	}
	if err := fs.MkdirAll(dir, 0o700); err != nil {
		return "", "", fmt.Errorf("create key directory: %w", err)
	}
	privName, pubName := KeyFileNames(kp.Encoding)
	privatePath = filepath.Join(dir, privName)
	publicPath = filepath.Join(dir, pubName)

	if !overwrite {
		for _, p := range []string{privatePath, publicPath} {
			exists, err := afero.Exists(fs, p)
			if err != nil {
				return "", "", fmt.Errorf("check %s: %w", p, err)
			}
			if exists {
				return "", "", fmt.Errorf("key file %s already exists", p)
			}
		}
	}

	if err := afero.WriteFile(fs, privatePath, kp.PrivateKey, 0o600); err != nil {
		return "", "", fmt.Errorf("write private key: %w", err)
	}
	if err := afero.WriteFile(fs, publicPath, kp.PublicKey, 0o644); err != nil {
		return "", "", fmt.Errorf("write public key: %w", err)
	}
	return privatePath, publicPath, nil
}

// privateKeyDecoder is one attempt at turning key file bytes into a key.
type privateKeyDecoder struct {
	name   string
	decode func(raw []byte) (*rsa.PrivateKey, error)
}

// privateKeyDecoders lists the strategies in the order they are tried.
func privateKeyDecoders(passphrase []byte) []privateKeyDecoder {
	decoders := []privateKeyDecoder{
		{name: "pkcs8 der", decode: decodePKCS8DER},
		{name: "pem", decode: decodePEMPrivateKey},
	}
	if len(passphrase) > 0 {
		decoders = append(decoders, privateKeyDecoder{
			name: "encrypted pem",
			decode: func(raw []byte) (*rsa.PrivateKey, error) {
				return decodeEncryptedPEM(raw, passphrase)
			},
		})
	}
	return decoders
}

// DecodePrivateKey tries each decoding strategy in turn and returns the
// first key decoded. When every strategy fails the error wraps ErrKeyLoad
// and joins the individual failures.
func DecodePrivateKey(raw, passphrase []byte) (*rsa.PrivateKey, error) {
	var errs []error
	for _, d := range privateKeyDecoders(passphrase) {
		key, err := d.decode(raw)
		if err == nil {
			return key, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", d.name, err))
	}
	return nil, fmt.Errorf("%w: %w", ErrKeyLoad, errors.Join(errs...))
}

// LoadPrivateKey reads and decodes a private key file.
func LoadPrivateKey(fs afero.Fs, path string, passphrase []byte) (*rsa.PrivateKey, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: read private key: %v", ErrKeyLoad, err)
	}
	return DecodePrivateKey(raw, passphrase)
}

func decodePKCS8DER(raw []byte) (*rsa.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(raw)
	if err != nil {
		return nil, err
	}
	return asRSAPrivateKey(key)
}

func decodePEMPrivateKey(raw []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	switch block.Type {
	case pemPrivateKey:
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		return asRSAPrivateKey(key)
	case pemRSAPrivateKey:
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case pemEncryptedPrivateKey:
		return nil, errors.New("key is encrypted and no passphrase was given")
	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
}

func decodeEncryptedPEM(raw, passphrase []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if block.Type != pemEncryptedPrivateKey {
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
	return pkcs8.ParsePKCS8PrivateKeyRSA(block.Bytes, passphrase)
}

func asRSAPrivateKey(key any) (*rsa.PrivateKey, error) {
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key type %T is not RSA", key)
	}
	return rsaKey, nil
}

// publicKeyDecoders lists the public key strategies in order.
var publicKeyDecoders = []struct {
	name   string
	decode func(raw []byte) (*rsa.PublicKey, error)
}{
	{name: "spki der", decode: decodeSPKIDER},
	{name: "pem", decode: decodePEMPublicKey},
}

// DecodePublicKey decodes an SPKI DER public key, falling back to PEM.
func DecodePublicKey(raw []byte) (*rsa.PublicKey, error) {
	var errs []error
	for _, d := range publicKeyDecoders {
		key, err := d.decode(raw)
		if err == nil {
			return key, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", d.name, err))
	}
	return nil, fmt.Errorf("%w: %w", ErrKeyLoad, errors.Join(errs...))
}

// LoadPublicKey reads and decodes a public key file.
func LoadPublicKey(fs afero.Fs, path string) (*rsa.PublicKey, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: read public key: %v", ErrKeyLoad, err)
	}
	return DecodePublicKey(raw)
}

func decodeSPKIDER(raw []byte) (*rsa.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(raw)
	if err != nil {
		return nil, err
	}
	return asRSAPublicKey(key)
}

func decodePEMPublicKey(raw []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	switch block.Type {
	case pemPublicKey:
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		return asRSAPublicKey(key)
	case pemRSAPublicKey:
		return x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
}

func asRSAPublicKey(key any) (*rsa.PublicKey, error) {
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("key type %T is not RSA", key)
	}
	return rsaKey, nil
}
