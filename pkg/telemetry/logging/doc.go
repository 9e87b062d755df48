// Package logging configures the process-wide structured logger.
//
// Log records pass through a redacting handler that masks attribute
// values whose keys look like secret material, so plaintext secrets
// cannot leak into the log stream even by accident.
package logging
