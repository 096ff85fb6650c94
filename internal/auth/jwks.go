package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"

	"verichat/internal/common"
)

type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type KeySet struct {
	Keys []JWK `json:"keys"`
}

func (ks KeySet) JSON() ([]byte, error) {
	return json.Marshal(ks)
}

type PublicKeySource interface {
	PublicKey() (*rsa.PublicKey, error)
}

// Publisher exposes the deployment public key as a single-entry JWK set.
type Publisher struct {
	keys PublicKeySource
}

func NewPublisher(keys PublicKeySource) *Publisher {
	return &Publisher{keys: keys}
}

// KeySet never returns an empty set: missing key material is an error.
func (p *Publisher) KeySet() (KeySet, error) {
	pub, err := p.keys.PublicKey()
	if err != nil {
		return KeySet{}, err
	}
	if pub == nil || pub.N == nil {
		return KeySet{}, common.E(common.ErrConfiguration, "publish key set", errors.New("public key not loaded"))
	}
	return KeySet{Keys: []JWK{RSAJWK(pub, KeyID)}}, nil
}

func RSAJWK(pub *rsa.PublicKey, kid string) JWK {
	return JWK{
		Kty: "RSA",
		Use: "sig",
		Alg: "RS256",
		Kid: kid,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}
