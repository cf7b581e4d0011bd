// Package transfer moves large payloads (attachments, media) through an
// established session as independent shard messages. Payloads are LZ4
// compressed, split with Reed-Solomon coding, and reassembled from any
// sufficient subset of shards, so a lossy transport can drop whole
// messages without forcing a retransmit round trip.
package transfer
