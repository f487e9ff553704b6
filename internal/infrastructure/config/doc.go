// Package config handles loading and validating MeshCore bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// The bridge is normally spawned by a parent process with no config file at
// all, so every field has a working default and Load("") is valid.
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load(os.Getenv("MESHBRIDGE_CONFIG"))
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.MeshCore.SerialPort)
package config
