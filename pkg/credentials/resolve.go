package credentials

import (
	"fmt"
	"os"
	"strings"

	"github.com/papercomputeco/spool/pkg/llm"
)

// Resolve returns the API key for a provider. Resolution order:
//  1. SPOOL_<PROVIDER>_API_KEY
//  2. The provider's conventional variable (OPENAI_API_KEY, ANTHROPIC_API_KEY)
//  3. credentials.toml in the resolved .spool/ directory
//
// A provider with no key anywhere yields a configuration error. No network
// call happens here or before this check.
func (m *Manager) Resolve(provider string) (string, error) {
	if key := os.Getenv(spoolEnvVar(provider)); key != "" {
		return key, nil
	}

	if env := EnvVarForProvider(provider); env != "" {
		if key := os.Getenv(env); key != "" {
			return key, nil
		}
	}

	key, err := m.GetKey(provider)
	if err != nil {
		return "", err
	}
	if key != "" {
		return key, nil
	}

	return "", llm.ConfigurationError(provider, fmt.Sprintf(
		"no API key for %s; set %s or run: spool auth %s",
		provider, spoolEnvVar(provider), provider,
	))
}

func spoolEnvVar(provider string) string {
	return "SPOOL_" + strings.ToUpper(provider) + "_API_KEY"
}
