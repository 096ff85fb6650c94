// Package keys loads the deployment's RSA key pair from PEM files.
//
// Key material is provisioned at deploy time and never rotated while the
// process runs, so successful loads are cached. Failures are not cached: a key
// placed on disk after startup is picked up by the next request.
package keys

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"
	"verichat/internal/common"
)

const (
	privateCacheKey = "private"
	publicCacheKey  = "public"
)

type Provider struct {
	PrivatePath string
	PublicPath  string

	cache *gocache.Cache
	ttl   time.Duration
}

// NewProvider returns a Provider caching loaded keys for ttl. A ttl of zero
// disables caching and reads the files on every call.
func NewProvider(privatePath, publicPath string, ttl time.Duration) *Provider {
	p := &Provider{PrivatePath: privatePath, PublicPath: publicPath, ttl: ttl}
	if ttl > 0 {
		p.cache = gocache.New(ttl, 2*ttl)
	}
	return p
}

func (p *Provider) PrivateKey() (*rsa.PrivateKey, error) {
	if v, ok := p.cached(privateCacheKey); ok {
		return v.(*rsa.PrivateKey), nil
	}
	raw, err := readPEM("private", p.PrivatePath)
	if err != nil {
		return nil, err
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(raw)
	if err != nil {
		return nil, common.E(common.ErrConfiguration, "parse private key", err)
	}
	p.store(privateCacheKey, key)
	return key, nil
}

func (p *Provider) PublicKey() (*rsa.PublicKey, error) {
	if v, ok := p.cached(publicCacheKey); ok {
		return v.(*rsa.PublicKey), nil
	}
	raw, err := readPEM("public", p.PublicPath)
	if err != nil {
		return nil, err
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(raw)
	if err != nil {
		return nil, common.E(common.ErrConfiguration, "parse public key", err)
	}
	p.store(publicCacheKey, key)
	return key, nil
}

func (p *Provider) cached(k string) (any, bool) {
	if p.cache == nil {
		return nil, false
	}
	return p.cache.Get(k)
}

func (p *Provider) store(k string, v any) {
	if p.cache != nil {
		p.cache.Set(k, v, gocache.DefaultExpiration)
	}
}

func readPEM(kind, path string) ([]byte, error) {
	op := fmt.Sprintf("read %s key", kind)
	if path == "" {
		return nil, common.E(common.ErrConfiguration, op, errors.New("path not configured"))
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, common.E(common.ErrConfiguration, op, fmt.Errorf("%s key not found", kind))
		}
		return nil, common.E(common.ErrConfiguration, op, err)
	}
	return raw, nil
}
