// Package frame encodes bus messages as newline-delimited JSON and decodes
// them back out of a byte stream that arrives in arbitrary chunks.
//
// A Decoder keeps the unterminated tail of the stream between calls, so a
// frame split across several reads is reassembled exactly once. A frame that
// fails to parse is reported on its own and never disturbs the frames around
// it. Both the bus server and the bus client own one Decoder per connection.
package frame
