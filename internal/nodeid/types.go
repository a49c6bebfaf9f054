package nodeid

// Kind is the first segment of an address and selects the node handler.
type Kind string

const (
	// KindLayer materializes the base layer from the build context.
	KindLayer Kind = "layer"
	// KindInstall installs the manifest's dependencies into a layer.
	KindInstall Kind = "install"
	// KindGate runs the test suite against a layer.
	KindGate Kind = "gate"
	// KindStage finalizes a production stage on top of a layer.
	KindStage Kind = "stage"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindLayer, KindInstall, KindGate, KindStage:
		return true
	}
	return false
}

// Address is the structured representation of a unique node identifier.
type Address struct {
	Kind Kind
	Name string
}
