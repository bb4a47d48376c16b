// Package errors implements the three-class error classification used across
// the mapper: Transient (temporary, may be retried by whoever owns the
// transport), Invalid (malformed input, never retried), and Fatal
// (misconfiguration or programming errors, stop processing).
//
// # Error Wrapping Pattern
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// The classified wrappers attach a class while wrapping:
//
//	errors.WrapTransient(err, "Client", "Connect", "establish connection")
//	errors.WrapInvalid(err, "Loader", "Load", "parse config")
//	errors.WrapFatal(err, "Server", "Start", "bind listener")
//
// Domain packages with their own typed errors (dvs, measurement, thinedge)
// use Classified to attach a class without rewriting the message, so callers
// keep matching on the domain sentinels with errors.Is:
//
//	err := errors.Classified(errors.ErrorInvalid, payloadErr, "dvs", "Decode")
//	errors.Is(err, dvs.ErrInvalidTimestamp) // true
//	errors.IsInvalid(err)                   // true
//
// # Classification
//
// Classify checks an explicit ClassifiedError first, then the standard
// sentinels, then falls back to message patterns for errors returned by
// third-party libraries. Unknown errors default to Transient.
package errors
