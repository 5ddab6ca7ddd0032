//go:build amd64

package platform

import (
	"fmt"
)

// Registers holds the output of one CPUID query.
type Registers struct {
	EAX, EBX, ECX, EDX uint32
}

// cpuid executes a native CPUID instruction.
func cpuid(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32)

// cpuidFn is swapped out by tests to probe synthetic processors.
var cpuidFn = cpuid

func query(leaf, subleaf uint32) Registers {
	eax, ebx, ecx, edx := cpuidFn(leaf, subleaf)
	return Registers{EAX: eax, EBX: ebx, ECX: ecx, EDX: edx}
}

// Vendor identifies the processor manufacturer.
type Vendor int

const (
	VendorUnknown Vendor = iota
	VendorAMD
	VendorIntel
)

func (v Vendor) String() string {
	switch v {
	case VendorAMD:
		return "AMD"
	case VendorIntel:
		return "Intel"
	default:
		return "unknown"
	}
}

// vendorIDFromRegs assembles the 12-byte vendor identifier returned
// by leaf 0 in ebx:edx:ecx order.
func vendorIDFromRegs(ebx, ecx, edx uint32) string {
	id := make([]byte, 0, 12)
	for _, reg := range [...]uint32{ebx, edx, ecx} {
		for i := uint(0); i < 4; i++ {
			id = append(id, byte(reg>>(i*8)))
		}
	}
	return string(id)
}

// hostVendor detects the manufacturer via leaf 0.
func hostVendor() (Vendor, string) {
	_, ebx, ecx, edx := cpuidFn(0, 0)
	id := vendorIDFromRegs(ebx, ecx, edx)
	switch id {
	case "AuthenticAMD":
		return VendorAMD, id
	case "GenuineIntel":
		return VendorIntel, id
	}
	return VendorUnknown, id
}

// CPUID leaves the probe tree consults.
const (
	extendedLeaf = 0x80000000 // highest extended leaf in EAX
	addressLeaf  = 0x80000008 // physical address width in EAX[7:0]
	encMemLeaf   = 0x8000001F // AMD encrypted memory capabilities
)

// CPUID is one node of the capability probe tree. A node queries its
// leaf, derives a verdict, and descends only when it passed. A node
// naming a Vendor is dropped on other processors.
type CPUID struct {
	Name    string
	Leaf    uint32
	Subleaf uint32
	Vendor  Vendor
	Probe   func(r Registers) (bool, string)
	Data    []CPUID
}

func (c *CPUID) scan(vendor Vendor) (Datum, bool) {
	if c.Vendor != VendorUnknown && c.Vendor != vendor {
		return Datum{}, false
	}

	pass, info := c.Probe(query(c.Leaf, c.Subleaf))
	d := Datum{Name: c.Name, Pass: pass, Info: info}
	if pass {
		for i := range c.Data {
			if child, ok := c.Data[i].scan(vendor); ok {
				d.Data = append(d.Data, child)
			}
		}
	}
	return d, true
}

func eaxBit(bit uint) func(Registers) (bool, string) {
	return func(r Registers) (bool, string) {
		return r.EAX&(1<<bit) != 0, ""
	}
}

// cpuTree describes the processor capabilities a keep depends on.
var cpuTree = CPUID{
	Name: "CPU",
	Leaf: extendedLeaf,
	Probe: func(r Registers) (bool, string) {
		_, id := hostVendor()
		return r.EAX >= encMemLeaf, id
	},
	Data: []CPUID{
		{
			Name: "Physical address width",
			Leaf: addressLeaf,
			Probe: func(r Registers) (bool, string) {
				bits := r.EAX & 0xff
				n, s := humanize(float64(uint64(1) << bits))
				return true, fmt.Sprintf("%.0f %s", n, s)
			},
		},
		{
			Name:   "SME",
			Leaf:   encMemLeaf,
			Vendor: VendorAMD,
			Probe:  eaxBit(0),
		},
		{
			Name:   "SEV",
			Leaf:   encMemLeaf,
			Vendor: VendorAMD,
			Probe: func(r Registers) (bool, string) {
				if r.EAX&(1<<1) == 0 {
					return false, ""
				}
				return true, fmt.Sprintf("%d encrypted guests", r.ECX)
			},
			Data: []CPUID{
				{
					Name:   "SEV-ES",
					Leaf:   encMemLeaf,
					Vendor: VendorAMD,
					Probe:  eaxBit(3),
				},
				{
					Name:   "SEV-SNP",
					Leaf:   encMemLeaf,
					Vendor: VendorAMD,
					Probe:  eaxBit(4),
				},
				{
					Name:   "C-bit position",
					Leaf:   encMemLeaf,
					Vendor: VendorAMD,
					Probe: func(r Registers) (bool, string) {
						pos := r.EBX & 0x3f
						return pos != 0, fmt.Sprintf("bit %d", pos)
					},
				},
			},
		},
	},
}

// cpuData scans the processor tree for the detected vendor.
func cpuData() Datum {
	vendor, _ := hostVendor()
	d, _ := cpuTree.scan(vendor)
	return d
}
