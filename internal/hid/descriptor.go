package hid

// ReportDescriptor is the boot-protocol keyboard report descriptor the USB
// gadget function must be provisioned with (configfs report_desc). It
// describes exactly the 8-byte report this bridge forwards.
var ReportDescriptor = []byte{
	0x05, 0x01, // Usage Page (Generic Desktop)
	0x09, 0x06, // Usage (Keyboard)
	0xA1, 0x01, // Collection (Application)

	// Modifier keys byte
	0x05, 0x07, // Usage Page (Key Codes)
	0x19, 0xE0, // Usage Minimum (224)
	0x29, 0xE7, // Usage Maximum (231)
	0x15, 0x00, // Logical Minimum (0)
	0x25, 0x01, // Logical Maximum (1)
	0x75, 0x01, // Report Size (1)
	0x95, 0x08, // Report Count (8)
	0x81, 0x02, // Input (Data, Variable, Absolute)

	// Reserved byte
	0x75, 0x08, // Report Size (8)
	0x95, 0x01, // Report Count (1)
	0x81, 0x01, // Input (Constant)

	// Key array (6 keys)
	0x05, 0x07, // Usage Page (Key Codes)
	0x19, 0x00, // Usage Minimum (0)
	0x29, 0xFF, // Usage Maximum (255)
	0x15, 0x00, // Logical Minimum (0)
	0x26, 0xFF, 0x00, // Logical Maximum (255)
	0x75, 0x08, // Report Size (8)
	0x95, 0x06, // Report Count (6)
	0x81, 0x00, // Input (Data, Array)

	0xC0, // End Collection
}
