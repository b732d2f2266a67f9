package registry

import (
	"encoding/json"
	"fmt"

	"github.com/google/go-containerregistry/pkg/authn"

	"github.com/jmgilman/digestpin/internal/keychain"
)

// Credential is a registry login stored in the keychain, keyed by registry host.
type Credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SaveCredential stores cred for registry in kc.
func SaveCredential(kc keychain.Keychain, registry string, cred Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	return kc.Set(registry, string(data))
}

// NewKeychain returns an authn.Keychain that serves credentials saved with
// SaveCredential first and falls back to the docker config keychain.
func NewKeychain(kc keychain.Keychain) authn.Keychain {
	if kc == nil {
		return authn.DefaultKeychain
	}
	return authn.NewMultiKeychain(&storeKeychain{store: kc}, authn.DefaultKeychain)
}

type storeKeychain struct {
	store keychain.Keychain
}

// Resolve implements authn.Keychain. Registries without a stored credential
// resolve to Anonymous so the next keychain is consulted. A keyring that is
// locked or unavailable is treated the same way.
func (k *storeKeychain) Resolve(target authn.Resource) (authn.Authenticator, error) {
	secret, err := k.store.Get(target.RegistryStr())
	if err != nil {
		return authn.Anonymous, nil
	}

	var cred Credential
	if err := json.Unmarshal([]byte(secret), &cred); err != nil {
		return nil, fmt.Errorf("decode credential for %s: %w", target.RegistryStr(), err)
	}

	return authn.FromConfig(authn.AuthConfig{
		Username: cred.Username,
		Password: cred.Password,
	}), nil
}
