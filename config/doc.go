// Package config loads the mapper configuration.
//
// Configuration is assembled in layers: built-in defaults, then each file
// added with AddLayer (JSON, or YAML for .yaml/.yml), then environment
// overrides prefixed with TEDGE_DVS. Files are read through a size and path
// check, and JSON input is rejected when nested deeper than a fixed limit.
//
//	loader := config.NewLoader()
//	loader.AddLayer("/etc/tedge/dvs-mapper.yaml")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//
// Durations such as nats.reconnect_wait accept Go duration strings ("5s").
//
// Environment overrides:
//
//	TEDGE_DVS_PLATFORM_ID
//	TEDGE_DVS_NATS_URLS              comma separated
//	TEDGE_DVS_NATS_USERNAME / _PASSWORD / _TOKEN
//	TEDGE_DVS_MAPPER_INPUT_SUBJECT / _OUTPUT_SUBJECT / _ERROR_SUBJECT / _ERROR_STREAM
//	TEDGE_DVS_MAPPER_DEFAULT_TIMESTAMP
//	TEDGE_DVS_METRICS_ADDRESS
//	TEDGE_DVS_LOG_LEVEL / _FORMAT
package config
