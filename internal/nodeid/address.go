package nodeid

// New builds an address without validation. Use Parse for untrusted input.
func New(kind Kind, name string) Address {
	return Address{Kind: kind, Name: name}
}

// String serializes the Address into its canonical `kind.name` form.
func (a Address) String() string {
	if a.Kind == "" && a.Name == "" {
		return ""
	}
	return string(a.Kind) + "." + a.Name
}

// Equal reports whether both addresses point at the same node.
func (a Address) Equal(other Address) bool {
	return a.Kind == other.Kind && a.Name == other.Name
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a.Kind == "" && a.Name == ""
}
