// Package srt dials SRT (Secure Reliable Transport) listeners in caller
// mode and exposes the connection as a buffered byte stream of MPEG-TS.
package srt
