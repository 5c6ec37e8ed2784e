package connection_pool

// Kind tells the variants of Source apart.
type Kind uint32

// source kind
const (
	KindUnpooled Kind = iota
	KindPool
	KindMultiHost
	KindMultiHostView
)

var kindNames = [...]string{
	KindUnpooled:      "unpooled",
	KindPool:          "pool",
	KindMultiHost:     "multi_host",
	KindMultiHostView: "multi_host_view",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// pool state
const (
	poolOpen = iota
	poolClosed
)

// acquire result labels
const (
	resultOK        = "ok"
	resultExhausted = "exhausted"
	resultCanceled  = "canceled"
	resultError     = "error"
)
