// Package demux turns an MPEG transport stream into media.Packets. The
// central type is [TSEngine], a pull engine that probes the program map,
// derives codec parameters from in-band SPS/PPS and ADTS headers, unwraps
// 33-bit timestamps and seeks by rescanning to the last keyframe before the
// target. Codec helpers are [ParseAnnexB], [ParseSPS], [ParseADTS] and
// their HEVC counterparts.
package demux
