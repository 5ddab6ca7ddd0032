//go:build !linux || !amd64

package platform

import (
	"fmt"
	"runtime"
)

// Scan reports that no probe applies on this platform.
func Scan() []Datum {
	return []Datum{{
		Name: "Platform",
		Info: fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		Mesg: "warden requires Linux on amd64",
	}}
}
