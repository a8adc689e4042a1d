// Package fragments provides the low-level byte-pushing primitives
// used to assemble and parse DBus wire messages.
//
// Encoder and Decoder know nothing about DBus signatures, message
// headers, or the vardict idiom; they only know how to pad, align,
// and lay out the handful of DBus primitive types on the wire. Higher
// layers are responsible for calling them in an order that produces a
// valid DBus message.
//
// Most callers never need this package directly. It's exposed for the
// benefit of hand-written Marshaler/Unmarshaler implementations, which
// receive an *Encoder or *Decoder and are expected to drive it
// correctly.
package fragments
