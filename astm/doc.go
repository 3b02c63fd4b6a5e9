// Package astm implements the ASTM E1381 link-layer engine and E1394-97
// record grammar used to talk to a Sysmex XP-family hematology analyzer.
//
// It covers three of the spec's components: the framing codec (STX/ETX/ETB
// frames with a modulo-8 frame number and a two-hex-digit checksum), the
// half-duplex link engine that drives establishment, transfer-with-retry and
// termination from either side of a TCP connection, and the connection
// supervisor that runs the link engine in client (dial) or server (listen)
// mode with reconnect-with-backoff.
//
// The package does not know anything about HL7 or the IHE LAB transactions;
// callers supply a MessageHandler that receives an assembled ASTM message
// and optionally returns an ASTM reply to turn around on the same link.
package astm
