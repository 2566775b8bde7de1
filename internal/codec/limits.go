package codec

// Size limits applied while reassembling payloads from untrusted senders.
const (
	MaxNALUnitSize     = 10 * 1024 * 1024 // a single reassembled NAL unit
	MaxAggregatedUnits = 100              // NAL units in one STAP-A or AP
	MaxFragments       = 1000             // fragments in one FU-A or FU
	MaxAccessUnitSize  = 64 * 1024        // a single AAC access unit
)
