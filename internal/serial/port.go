package serial

import (
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}

// Start configures the adapter for bitrate and opens the CAN channel.
func Start(p Port, bitrate int) error {
	cmds, err := OpenCommands(bitrate)
	if err != nil {
		return err
	}
	if _, err := p.Write(cmds); err != nil {
		return fmt.Errorf("slcan open: %w", err)
	}
	return nil
}

// Stop closes the CAN channel; the port itself stays open.
func Stop(p Port) error {
	_, err := p.Write(CloseCommand())
	return err
}
