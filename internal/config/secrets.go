package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.PrivateKey)
	redact(&out.Database.DSN)
	redact(&out.Database.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Copy slices and maps so callers cannot mutate the original through
	// the redacted copy.
	if cfg.Policy.Tools != nil {
		out.Policy.Tools = make([]string, len(cfg.Policy.Tools))
		copy(out.Policy.Tools, cfg.Policy.Tools)
	}
	if cfg.Markets.Creators != nil {
		out.Markets.Creators = make([]string, len(cfg.Markets.Creators))
		copy(out.Markets.Creators, cfg.Markets.Creators)
	}
	if cfg.Markets.Languages != nil {
		out.Markets.Languages = make([]string, len(cfg.Markets.Languages))
		copy(out.Markets.Languages, cfg.Markets.Languages)
	}
	if cfg.Strategy.ThresholdAmounts != nil {
		out.Strategy.ThresholdAmounts = make(map[string]int64, len(cfg.Strategy.ThresholdAmounts))
		for k, v := range cfg.Strategy.ThresholdAmounts {
			out.Strategy.ThresholdAmounts[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
