//go:build !rtmidi

package audience

import (
	"fmt"

	"gitlab.com/gomidi/midi/v2/drivers"
)

func openNativeDriver() (drivers.Driver, error) {
	return nil, fmt.Errorf("midi backend unavailable in this build; rebuild with -tags rtmidi")
}
