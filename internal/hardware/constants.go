package hardware

const (
	GpioKeysInput = "/dev/input/by-path/platform-gpio-keys-event"

	// EVIOCGRAB takes the input device exclusively so panel key presses
	// never leak to a console.
	EVIOCGRAB = 0x40044590

	EV_SYN = 0x00
	EV_KEY = 0x01

	KEY_A = 30 // scan_button
	KEY_B = 48 // accept_button
	KEY_C = 46 // reject_button
)

// DoMappings maps digital output channels to GPIO chip/line pairs.
var DoMappings = map[string]struct {
	Chip int
	Line int
}{
	"session_led":  {2, 9},
	"fault_buzzer": {2, 11},
}

// KeyMappings maps input-device keycodes to panel input channels.
var KeyMappings = map[uint16]string{
	KEY_A: "scan_button",
	KEY_B: "accept_button",
	KEY_C: "reject_button",
}
