package tropic01

import "log/slog"

// Device is a host handle on one TROPIC01. It owns the L1 link and the secure
// session. A Device is not safe for concurrent use; callers sharing a chip
// serialize access themselves.
type Device struct {
	cfg      config
	link     *Link
	session  Session
	revision Revision
	attrs    Attributes
	firmware *FirmwareVersion
}

// New creates a Device on port. No traffic is sent until Init or the first request.
func New(port Port, opts ...Option) *Device {
	d := &Device{cfg: defaultConfig()}
	for _, opt := range opts {
		opt(&d.cfg)
	}
	d.link = newLink(port, &d.cfg)
	d.revision = d.cfg.revision
	d.attrs = DefaultAttributes()
	return d
}

// Init reads the chip mode, leaves maintenance mode when possible, and
// selects the silicon revision and application constant set.
//
// Returns:
//   - nil, also when the chip stays in maintenance mode (defaults are kept)
//   - ErrFirmwareTooNew if the application firmware is newer than this package
//   - transport and L2 errors
func (d *Device) Init() error {
	if _, err := d.link.ChipStatus(); err != nil {
		return err
	}
	if d.link.Mode() == ModeMaintenance {
		slog.Info("chip in maintenance mode, rebooting to application")
		if err := d.Reboot(StartupReboot); err != nil {
			return err
		}
	}

	if d.revision == RevisionUnknown {
		id, err := d.GetChipID()
		if err != nil {
			return err
		}
		d.revision = id.Revision()
		slog.Debug("silicon revision", "revision", d.revision.String(), "raw", string(id.SiliconRev[:]))
	}

	if d.link.Mode() == ModeMaintenance {
		slog.Warn("chip stayed in maintenance mode, using default constants")
		return nil
	}
	fw, err := d.GetRISCVFirmwareVersion()
	if err != nil {
		return err
	}
	attrs, err := AttributesFor(*fw)
	if err != nil {
		return err
	}
	d.firmware = fw
	d.attrs = attrs
	slog.Debug("application firmware", "version", fw.String(), "r_mem_data_max", attrs.RMemDataMax)
	return nil
}

// Mode returns the mode seen on the most recent chip status poll.
func (d *Device) Mode() Mode {
	return d.link.Mode()
}

// RefreshMode polls the chip status once and returns the resulting mode.
func (d *Device) RefreshMode() (Mode, error) {
	if _, err := d.link.ChipStatus(); err != nil {
		return d.link.Mode(), err
	}
	return d.link.Mode(), nil
}

// Session exposes the secure session state and counters.
func (d *Device) Session() *Session {
	return &d.session
}

// Revision returns the silicon revision, RevisionUnknown before Init.
func (d *Device) Revision() Revision {
	return d.revision
}

// Attributes returns the constant set for the application firmware.
func (d *Device) Attributes() Attributes {
	return d.attrs
}

// Firmware returns the application firmware version read by Init, or nil.
func (d *Device) Firmware() *FirmwareVersion {
	return d.firmware
}

// Close aborts an established session. The port itself belongs to the caller.
func (d *Device) Close() error {
	if d.session.State() != SessionEstablished {
		return nil
	}
	return d.AbortSession()
}
