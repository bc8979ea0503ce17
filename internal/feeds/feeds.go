// Package feeds discovers dynamically-inventoried channels whose
// synthetic owning objects are created on demand, on a slower cadence
// than the regular import loop.
package feeds

// Feed expands a dynamic inventory into (synthetic object, channels)
// tuples. The slot number of a measurement is the 1-based index into
// the channel list, capped at five.
type Feed interface {
	Name() string
	ObjectTypeID() uint

	// FullChannelList returns every channel the feed wants subscribed.
	FullChannelList() ([]string, error)

	// PerObjectChannels maps each synthetic object name to its channels.
	PerObjectChannels() (map[string][]string, error)
}
