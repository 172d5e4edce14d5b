package cleanscope

import (
	usb "github.com/kevmo314/go-usb"
	"golang.org/x/sys/unix"
)

// OpenDeviceNode opens a usbfs device node (for example
// /dev/bus/usb/001/004) and wraps it in a USB handle. On Android the fd
// comes from UsbDeviceConnection instead; wrap it with usb.WrapSysDevice
// directly.
func OpenDeviceNode(path string) (*usb.DeviceHandle, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, &DeviceError{Op: "open " + path, Err: err}
	}
	handle, err := usb.WrapSysDevice(fd)
	if err != nil {
		unix.Close(fd)
		return nil, &DeviceError{Op: "wrap device", Err: err}
	}
	return handle, nil
}

// PrepareStreamingInterface takes the streaming interface away from the
// kernel driver, claims it and selects the negotiated alternate setting.
// Alt setting zero carries no bandwidth; the caller picks the alt whose
// endpoint packet size matches what it negotiated.
func PrepareStreamingInterface(handle *usb.DeviceHandle, iface, alt uint8) error {
	// uvcvideo usually owns the interface; failure here just means no
	// driver was attached.
	handle.DetachKernelDriver(iface)

	if err := handle.ClaimInterface(iface); err != nil {
		return &DeviceError{Op: "claim interface", Err: err}
	}
	if err := handle.SetInterfaceAltSetting(iface, alt); err != nil {
		handle.ReleaseInterface(iface)
		return &DeviceError{Op: "set alt setting", Err: err}
	}
	return nil
}
