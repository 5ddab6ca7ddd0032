// Package platform probes the host for everything a keep needs:
// processor capabilities, hypervisor access, and cached attestation
// artifacts. Probes never fail hard; each reports a Datum so the
// operator sees the full picture in one pass.
package platform

// Datum is one diagnostic record. Info carries a value worth showing
// even on success; Mesg tells the operator how to fix a failure.
type Datum struct {
	Name string
	Pass bool
	Info string
	Mesg string
	Data []Datum
}

// humanize rescales a byte count to the largest binary unit that
// keeps the value at or below 512.
func humanize(size float64) (float64, string) {
	var iter int
	for size > 512 {
		size /= 1024
		iter++
	}

	suffixes := [...]string{"", "KiB", "MiB", "GiB", "TiB", "PiB", "EiB", "ZiB", "YiB"}
	return size, suffixes[iter]
}
