package idp

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/alexandremahdhaoui/tenantprobe/pkg/cluster"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/failure"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/retry"
)

const (
	DefaultProviderName   = "tenantprobe"
	DefaultSecretName     = "tenantprobe-htpasswd"
	DefaultBcryptCost     = bcrypt.DefaultCost
	DefaultRolloutTimeout = 300 * time.Second
	DefaultBaselineRole   = "view"
	DefaultRoleNamespace  = "tenantprobe-workload"

	defaultRolloutInterval = 5 * time.Second

	// HTPasswdKey is the secret key OpenShift reads htpasswd data from.
	HTPasswdKey = "htpasswd"
)

// Config configures a Bootstrapper.
type Config struct {
	ProviderName    string        `json:"providerName"`
	SecretName      string        `json:"secretName"`
	SecretNamespace string        `json:"secretNamespace"`
	BcryptCost      int           `json:"bcryptCost"`
	AuthNamespace   string        `json:"authNamespace"`
	AuthDeployment  string        `json:"authDeployment"`
	RolloutTimeout  time.Duration `json:"rolloutTimeout"`
	RolloutInterval time.Duration `json:"rolloutInterval"`
	BaselineRole    string        `json:"baselineRole"`
	RoleNamespace   string        `json:"roleNamespace"`
	Backoff         retry.Backoff `json:"-"`
}

func DefaultConfig() Config {
	return Config{
		ProviderName:    DefaultProviderName,
		SecretName:      DefaultSecretName,
		SecretNamespace: cluster.ConfigNamespace,
		BcryptCost:      DefaultBcryptCost,
		AuthNamespace:   cluster.AuthNamespace,
		AuthDeployment:  cluster.AuthDeployment,
		RolloutTimeout:  DefaultRolloutTimeout,
		RolloutInterval: defaultRolloutInterval,
		BaselineRole:    DefaultBaselineRole,
		RoleNamespace:   DefaultRoleNamespace,
		Backoff:         retry.DefaultBackoff(),
	}
}

// Validate returns every configuration error joined.
func (c Config) Validate() error {
	var errs []error

	for _, f := range []struct{ name, value string }{
		{"providerName", c.ProviderName},
		{"secretName", c.SecretName},
		{"secretNamespace", c.SecretNamespace},
		{"authNamespace", c.AuthNamespace},
		{"authDeployment", c.AuthDeployment},
		{"baselineRole", c.BaselineRole},
		{"roleNamespace", c.RoleNamespace},
	} {
		if f.value == "" {
			errs = append(errs, fmt.Errorf("%w: %s must not be empty", failure.ErrInvalidConfig, f.name))
		}
	}

	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("%w: bcrypt cost %d out of range [%d, %d]",
			failure.ErrInvalidConfig, c.BcryptCost, bcrypt.MinCost, bcrypt.MaxCost))
	}

	if c.RolloutTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: rollout timeout must be positive", failure.ErrInvalidConfig))
	}

	return errors.Join(errs...)
}
