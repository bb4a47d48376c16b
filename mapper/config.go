package mapper

import (
	"fmt"

	"github.com/yhegen/thin-edge.io/errors"
	"github.com/yhegen/thin-edge.io/natsclient"
)

// Config holds the subjects the mapper reads from and writes to
type Config struct {
	// InputSubject receives bridged DVS messages, e.g. "dvs.>" for MQTT "dvs/#".
	InputSubject string `json:"input_subject"`
	// OutputSubject receives the Thin Edge JSON documents.
	OutputSubject string `json:"output_subject"`
	// ErrorSubject receives an error report for every rejected message.
	ErrorSubject string `json:"error_subject"`
	// ErrorStream, when set, captures ErrorSubject in a JetStream stream and
	// reports are published with acknowledgement.
	ErrorStream string `json:"error_stream,omitempty"`
	// DefaultTimestamp stamps each document with the conversion time.
	DefaultTimestamp bool `json:"default_timestamp"`
}

// DefaultConfig returns the default mapper configuration
func DefaultConfig() Config {
	return Config{
		InputSubject:     "dvs.>",
		OutputSubject:    "tedge.measurements",
		ErrorSubject:     "tedge.errors",
		DefaultTimestamp: true,
	}
}

// Validate checks that all subjects are set and that nothing the mapper
// publishes is delivered back to its own subscription.
func (c Config) Validate() error {
	switch {
	case c.InputSubject == "":
		return errors.WrapInvalid(errors.ErrMissingConfig, "Mapper", "Validate", "input subject")
	case c.OutputSubject == "":
		return errors.WrapInvalid(errors.ErrMissingConfig, "Mapper", "Validate", "output subject")
	case c.ErrorSubject == "":
		return errors.WrapInvalid(errors.ErrMissingConfig, "Mapper", "Validate", "error subject")
	}

	for _, out := range []struct{ name, subject string }{
		{"output", c.OutputSubject},
		{"error", c.ErrorSubject},
	} {
		if !natsclient.IsLiteralSubject(out.subject) {
			return errors.WrapInvalid(
				fmt.Errorf("%s subject %q contains a wildcard", out.name, out.subject),
				"Mapper", "Validate", "check subjects")
		}
		if natsclient.SubjectMatches(c.InputSubject, out.subject) {
			return errors.WrapInvalid(
				fmt.Errorf("%s subject %q is matched by input subject %q", out.name, out.subject, c.InputSubject),
				"Mapper", "Validate", "check subjects")
		}
	}
	return nil
}
