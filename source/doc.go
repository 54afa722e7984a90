// Package source pulls encoded media samples out of container streams.
//
// A Source is one opened session: it discovers the tracks of the input
// once, keeps a per-track selection, and hands out one sample per
// ReadSample call, copied into a caller-owned Destination. Inputs are
// addressed by location string: rtsp:// and rtsps:// sessions are
// depacketized from RTP, while files, http(s)://, h3://, udp:// and srt://
// inputs are parsed as MPEG transport streams.
//
// A Source is not safe for concurrent use, with one exception: Interrupt
// may be called from any goroutine to abort a blocked read.
// Table gives many sessions typed handles; Reader adapts a Source to a
// prepare/enable/read playback lifecycle.
package source
