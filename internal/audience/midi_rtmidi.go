//go:build rtmidi

package audience

import (
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

func openNativeDriver() (drivers.Driver, error) {
	return rtmididrv.New()
}
