package hardware

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
	"golang.org/x/sys/unix"

	"shuttle-service/internal/logger"
)

// InputEvent mirrors the kernel input_event layout on a 32-bit time ABI.
type InputEvent struct {
	Sec   int32
	Usec  int32
	Type  uint16
	Code  uint16
	Value int32
}

type InputCallback func(channel string, value bool) error

// LinuxPanelIO drives the physical driver panel: buttons arrive as
// gpio-keys input events, indicator outputs go through GPIO lines.
type LinuxPanelIO struct {
	logger          *logger.Logger
	inputDevicePath string
	inputFile       *os.File
	chips           map[int]*gpiocdev.Chip
	lines           map[string]*gpiocdev.Line
	inputCallbacks  map[string]InputCallback
	mu              sync.RWMutex
	stopChan        chan struct{}
	activeKeys      map[uint16]bool
	initialValues   map[string]bool
}

func NewLinuxPanelIO(log *logger.Logger) *LinuxPanelIO {
	return &LinuxPanelIO{
		logger:          log.WithTag("PanelIO"),
		inputDevicePath: GpioKeysInput,
		chips:           make(map[int]*gpiocdev.Chip),
		lines:           make(map[string]*gpiocdev.Line),
		inputCallbacks:  make(map[string]InputCallback),
		stopChan:        make(chan struct{}),
		activeKeys:      make(map[uint16]bool),
		initialValues:   make(map[string]bool),
	}
}

func (io *LinuxPanelIO) SetInitialValue(name string, value bool) {
	io.mu.Lock()
	defer io.mu.Unlock()
	io.initialValues[name] = value
}

func (io *LinuxPanelIO) Initialize() error {
	io.logger.Infof("Initializing panel IO")

	for name, mapping := range DoMappings {
		chip, ok := io.chips[mapping.Chip]
		if !ok {
			var err error
			chip, err = gpiocdev.NewChip(fmt.Sprintf("gpiochip%d", mapping.Chip))
			if err != nil {
				return fmt.Errorf("failed to open GPIO chip %d: %w", mapping.Chip, err)
			}
			io.chips[mapping.Chip] = chip
		}

		io.mu.RLock()
		val := 0
		if value, exists := io.initialValues[name]; exists && value {
			val = 1
		}
		io.mu.RUnlock()

		line, err := chip.RequestLine(mapping.Line,
			gpiocdev.AsOutput(val),
			gpiocdev.WithConsumer("shuttle-service"))
		if err != nil {
			return fmt.Errorf("failed to request GPIO line %d: %w", mapping.Line, err)
		}

		io.lines[name] = line
		io.logger.Debugf("Configured DO %s: chip=%d, line=%d", name, mapping.Chip, mapping.Line)
	}

	io.logger.Infof("Opening input device: %s", io.inputDevicePath)
	var err error
	io.inputFile, err = os.OpenFile(io.inputDevicePath, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open input device %s: %w", io.inputDevicePath, err)
	}

	// Grab the device so panel buttons are not delivered anywhere else
	if err := unix.IoctlSetInt(int(io.inputFile.Fd()), EVIOCGRAB, 1); err != nil {
		io.logger.Warnf("Failed to grab input device exclusively: %v", err)
	}

	go io.monitorInputs()

	return nil
}

func (io *LinuxPanelIO) Cleanup() {
	close(io.stopChan)

	if io.inputFile != nil {
		if err := unix.IoctlSetInt(int(io.inputFile.Fd()), EVIOCGRAB, 0); err != nil {
			io.logger.Debugf("Failed to release input device grab: %v", err)
		}
	}

	for name, line := range io.lines {
		if err := line.Close(); err != nil {
			io.logger.Warnf("Failed to close GPIO line %s: %v", name, err)
		}
	}
	for idx, chip := range io.chips {
		if err := chip.Close(); err != nil {
			io.logger.Warnf("Failed to close GPIO chip %d: %v", idx, err)
		}
	}
}

func (io *LinuxPanelIO) monitorInputs() {
	defer io.inputFile.Close()

	buffer := make([]byte, 16)
	io.logger.Debugf("Starting input event monitoring")

	for {
		select {
		case <-io.stopChan:
			io.logger.Infof("Stopping input monitoring")
			return
		default:
			n, err := io.inputFile.Read(buffer)
			if err != nil {
				io.logger.Warnf("Error reading input: %v", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
			if n != len(buffer) {
				io.logger.Warnf("Incomplete read: got %d bytes, expected %d", n, len(buffer))
				continue
			}

			typ := binary.LittleEndian.Uint16(buffer[8:10])
			if typ != EV_KEY {
				continue
			}

			io.handleKeyEvent(&InputEvent{
				Sec:   int32(binary.LittleEndian.Uint32(buffer[0:4])),
				Usec:  int32(binary.LittleEndian.Uint32(buffer[4:8])),
				Type:  typ,
				Code:  binary.LittleEndian.Uint16(buffer[10:12]),
				Value: int32(binary.LittleEndian.Uint32(buffer[12:16])),
			})
		}
	}
}

func (io *LinuxPanelIO) handleKeyEvent(event *InputEvent) {
	if event.Value > 1 {
		return // key repeat
	}

	channel := KeyMappings[event.Code]
	if channel == "" {
		io.logger.Debugf("Unknown key code: %d", event.Code)
		return
	}

	io.mu.Lock()
	if event.Value == 0 {
		delete(io.activeKeys, event.Code)
	} else {
		io.activeKeys[event.Code] = true
	}
	callback, exists := io.inputCallbacks[channel]
	io.mu.Unlock()

	if !exists {
		io.logger.Debugf("No callback registered for channel: %s", channel)
		return
	}
	if err := callback(channel, event.Value == 1); err != nil {
		io.logger.Warnf("Error in callback for %s: %v", channel, err)
	}
}

func (io *LinuxPanelIO) ReadDigitalInput(channel string) (bool, error) {
	var code uint16
	found := false
	for k, ch := range KeyMappings {
		if ch == channel {
			code = k
			found = true
			break
		}
	}
	if !found {
		return false, fmt.Errorf("unknown input channel: %s", channel)
	}

	io.mu.RLock()
	defer io.mu.RUnlock()
	return io.activeKeys[code], nil
}

func (io *LinuxPanelIO) WriteDigitalOutput(channel string, value bool) error {
	io.mu.RLock()
	line, exists := io.lines[channel]
	io.mu.RUnlock()

	if !exists {
		return fmt.Errorf("unknown output channel: %s", channel)
	}

	v := 0
	if value {
		v = 1
	}
	if err := line.SetValue(v); err != nil {
		return fmt.Errorf("failed to set %s: %w", channel, err)
	}
	return nil
}

func (io *LinuxPanelIO) RegisterInputCallback(channel string, callback InputCallback) {
	io.mu.Lock()
	defer io.mu.Unlock()
	io.inputCallbacks[channel] = callback
}
