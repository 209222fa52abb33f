// Package errors provides standardized error handling for tensorscope.
//
// # Error Classification
//
// Every error returned across a package boundary falls into one of four classes:
//
//   - Transient: timeouts, lost connections, temporary unavailability (retry)
//   - Invalid: malformed request parameters or configuration (do not retry)
//   - NotFound: the requested run, tag, container or asset does not exist
//   - Fatal: unreadable containers, corrupt logs, unrecoverable state
//
// The HTTP and NATS gateways map the class to a status code and a sanitised
// message, so classification must be set where the error is first observed.
//
// # Wrapping Pattern
//
// All wrapping follows the format
//
//	"component.method: action failed: %w"
//
// and the classified wrappers record the class alongside it:
//
//	errors.WrapNotFound(errors.ErrNotFound, "Inspector", "GetSeries", "lookup tag")
//	errors.WrapInvalid(err, "Dispatcher", "parseWindow", "parse cursor")
//	errors.WrapFatal(err, "Container", "Open", "read header")
//
// Wrap() on its own adds context without changing the class of the wrapped error.
//
// # Sentinels
//
// ErrNotFound, ErrBadRequest, ErrIO and ErrDecode name the request-level
// failure kinds. Unclassified errors that wrap them are classified by
// errors.Is, so fmt.Errorf("...: %w", errors.ErrDecode) still behaves.
//
// DecodeError never reaches a client: readers count and log it per entry and
// carry on with the rest of the response.
package errors
