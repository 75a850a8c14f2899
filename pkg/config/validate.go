// Package config loads and validates service configuration.
package config

import (
	"fmt"
	"strings"
)

// ValidateCore ensures critical configuration is present and the privacy
// parameters are usable before any ledger is created from them.
func (c *Config) ValidateCore() error {
	var missing []string

	if strings.TrimSpace(c.Server.Port) == "" {
		missing = append(missing, "SERVER_PORT")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" || c.JWT.Secret == "change-this-secret" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Privacy.TotalEpsilon <= 0 {
		return fmt.Errorf("PRIVACY_TOTAL_EPSILON must be positive, got %v", c.Privacy.TotalEpsilon)
	}
	if c.Privacy.MaxQueryEpsilon <= 0 {
		return fmt.Errorf("PRIVACY_MAX_QUERY_EPSILON must be positive, got %v", c.Privacy.MaxQueryEpsilon)
	}
	if c.Privacy.MeanCountFraction <= 0 || c.Privacy.MeanCountFraction >= 1 {
		return fmt.Errorf("PRIVACY_MEAN_COUNT_FRACTION must be in (0, 1), got %v", c.Privacy.MeanCountFraction)
	}
	if c.Privacy.SumSensitivity <= 0 {
		return fmt.Errorf("PRIVACY_SUM_SENSITIVITY must be positive, got %v", c.Privacy.SumSensitivity)
	}
	if c.Privacy.HistoryLimit <= 0 {
		return fmt.Errorf("PRIVACY_HISTORY_LIMIT must be positive, got %v", c.Privacy.HistoryLimit)
	}

	return nil
}
