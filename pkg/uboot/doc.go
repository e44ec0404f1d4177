// Package uboot drives the U-Boot console over a serial port.
//
// The console is line oriented and noisy: the board echoes what is typed,
// interleaves progress output, and emits its prompt without a trailing
// newline. Every wait in this package is therefore a bounded scan over lines
// read with a short read timeout, where a timeout produces an empty (or
// partial) line rather than an error. A scan either finds its token within
// the retry budget, sees an explicit negative indicator, or gives up; the
// caller never retries a whole sequence.
//
// A bring-up session moves the Channel through these states:
//
//	Disconnected -> Synced -> EnvConfigured -> TransferPending ->
//	TransferComplete -> Running -> IPAcquired
//
// The exact prompt text differs between board configurations, so the
// Channel starts with a configured prefix and, until it has seen a match,
// adopts the first non-empty unmatched line it checks as the prompt for
// the rest of the session.
package uboot
