// Package config handles loading and validating the Nuki bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (NUKIBRIDGE_*)
//   - Validation of required fields, collecting every error in one pass
//   - Default value handling
//
// Security Considerations:
//   - The bridge token and JWT secret should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load(config.Path())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Nuki.Host)
package config
