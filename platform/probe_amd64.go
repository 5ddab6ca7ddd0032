//go:build linux && amd64

package platform

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/wardenvm/warden/cache"
	"github.com/wardenvm/warden/kvm"
)

const devicePath = "/dev/kvm"

const crlUpdateMsg = "Run `warden cache crl` to generate the AMD CRL cache file"

// Scan probes everything a keep launch depends on. It never returns
// an error; failures surface as failed datums with remediation
// messages.
func Scan() []Datum {
	data := []Datum{cpuData(), deviceData(devicePath)}

	sys, err := kvm.OpenSystem()
	data = append(data, systemData(sys, err)...)
	if err == nil {
		sys.Close()
	}

	store, err := cache.NewStore()
	if err != nil {
		data = append(data, crlData(nil, err))
	} else {
		data = append(data, crlData(store, nil))
	}
	return data
}

// deviceData checks the hypervisor device node exists and is
// read-write accessible.
func deviceData(path string) Datum {
	d := Datum{Name: "Driver", Info: path}
	if err := unix.Access(path, unix.R_OK|unix.W_OK); err != nil {
		d.Info = fmt.Sprintf("%s: %v", path, err)
		d.Mesg = fmt.Sprintf("warden expects %s to exist and be read-write accessible", path)
		return d
	}
	d.Pass = true
	return d
}

// systemData reports the hypervisor API version and the vCPU run
// region size.
func systemData(sys *kvm.System, err error) []Datum {
	version := Datum{Name: "KVM API version"}
	region := Datum{Name: "vCPU run region"}
	if err != nil {
		version.Info = err.Error()
		region.Info = err.Error()
		return []Datum{version, region}
	}

	if v, verr := sys.APIVersion(); verr != nil {
		version.Info = verr.Error()
	} else {
		version.Pass = true
		version.Info = fmt.Sprintf("%d", v)
	}

	if size, serr := sys.VCPUMmapSize(); serr != nil {
		region.Info = serr.Error()
	} else {
		n, s := humanize(float64(size))
		region.Pass = true
		region.Info = fmt.Sprintf("%.0f %s", n, s)
	}
	return []Datum{version, region}
}

// crlChecker is the slice of the cache the CRL datum consumes.
type crlChecker interface {
	CheckCRLs() (time.Time, error)
	Dir() string
}

// crlData reports the freshness of the cached AMD revocation lists.
func crlData(store crlChecker, storeErr error) Datum {
	d := Datum{Name: "AMD CRL cache file"}
	if storeErr != nil {
		d.Info = storeErr.Error()
		d.Mesg = crlUpdateMsg
		return d
	}

	next, err := store.CheckCRLs()
	switch {
	case errors.Is(err, cache.ErrNoCRLCache):
		d.Mesg = crlUpdateMsg
	case err != nil:
		d.Info = err.Error()
		d.Mesg = crlUpdateMsg
	case next.IsZero():
		d.Pass = true
		d.Info = store.Dir()
	default:
		d.Pass = true
		d.Info = fmt.Sprintf("%s, next update %s", store.Dir(), next.Format(time.RFC3339))
	}
	return d
}
