package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	bluezBus          = "org.bluez"
	bluezAdapter1     = "org.bluez.Adapter1"
	bluezDevice1      = "org.bluez.Device1"
	bluezGattChar     = "org.bluez.GattCharacteristic1"
	dbusProperties    = "org.freedesktop.DBus.Properties"
	dbusObjectManager = "org.freedesktop.DBus.ObjectManager"

	bluezConnectTimeout = 10 * time.Second
	bluezConnectVerify  = 500 * time.Millisecond
	bluezResolveGuard   = 15 * time.Second
	bluezResolvePoll    = 200 * time.Millisecond
	bluezScanPoll       = 500 * time.Millisecond
	bluezSignalChanSize = 64
	bluezFrameChanSize  = 64
)

// BLEProfile names the GATT triple a lens peripheral exposes: one
// service with a write (command) characteristic and a notify (response)
// characteristic.
type BLEProfile struct {
	ServiceUUID  string
	CommandUUID  string
	ResponseUUID string
}

func DefaultBLEProfile() BLEProfile {
	return BLEProfile{
		ServiceUUID:  "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
		CommandUUID:  "6e400002-b5a3-f393-e0a9-e50e24dcca9e",
		ResponseUUID: "6e400003-b5a3-f393-e0a9-e50e24dcca9e",
	}
}

func (p BLEProfile) Validate() error {
	if p.ServiceUUID == "" || p.CommandUUID == "" || p.ResponseUUID == "" {
		return fmt.Errorf("ble profile: all three UUIDs are required")
	}
	return nil
}

// BlueZ is the production Transport: a GATT central speaking the BlueZ
// D-Bus API on the system bus.
type BlueZ struct {
	adapter string
	profile BLEProfile
	log     zerolog.Logger
}

func NewBlueZ(adapter string, profile BLEProfile) *BlueZ {
	if adapter == "" {
		adapter = "hci0"
	}
	return &BlueZ{
		adapter: adapter,
		profile: profile,
		log:     log.With().Str("component", "transport.bluez").Str("adapter", adapter).Logger(),
	}
}

func (b *BlueZ) adapterPath() dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + b.adapter)
}

// devicePath maps a MAC address onto the adapter's object tree,
// "AA:BB:.." -> "/org/bluez/hci0/dev_AA_BB_..".
func (b *BlueZ) devicePath(address string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("/org/bluez/%s/dev_%s", b.adapter, strings.ReplaceAll(address, ":", "_")))
}

func (b *BlueZ) bus() (*dbus.Conn, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: system bus: %v", ErrTransportUnavailable, err)
	}
	powered, err := getProperty[bool](conn, b.adapterPath(), bluezAdapter1, "Powered")
	if err != nil {
		return nil, fmt.Errorf("%w: adapter %s: %v", ErrTransportUnavailable, b.adapter, err)
	}
	if !powered {
		return nil, fmt.Errorf("%w: adapter %s is not powered", ErrTransportUnavailable, b.adapter)
	}
	return conn, nil
}

func (b *BlueZ) Scan(ctx context.Context) (<-chan Candidate, func(), error) {
	conn, err := b.bus()
	if err != nil {
		return nil, nil, err
	}

	adapter := conn.Object(bluezBus, b.adapterPath())
	filter := map[string]dbus.Variant{
		"Transport": dbus.MakeVariant("le"),
		"UUIDs":     dbus.MakeVariant([]string{b.profile.ServiceUUID}),
	}
	if call := adapter.Call(bluezAdapter1+".SetDiscoveryFilter", 0, filter); call.Err != nil {
		return nil, nil, fmt.Errorf("%w: set discovery filter: %v", ErrTransportUnavailable, call.Err)
	}
	if call := adapter.Call(bluezAdapter1+".StartDiscovery", 0); call.Err != nil {
		return nil, nil, fmt.Errorf("%w: start discovery: %v", ErrTransportUnavailable, call.Err)
	}
	b.log.Debug().Str("service", b.profile.ServiceUUID).Msg("discovery started")

	out := make(chan Candidate, 8)
	stopped := make(chan struct{})
	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			close(stopped)
			adapter.Call(bluezAdapter1+".StopDiscovery", 0)
		})
	}

	go func() {
		defer close(out)
		seen := make(map[string]bool)
		ticker := time.NewTicker(bluezScanPoll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				stop()
				return
			case <-stopped:
				return
			case <-ticker.C:
				for _, cand := range b.matchingDevices(conn, seen) {
					select {
					case out <- cand:
					case <-stopped:
						return
					case <-ctx.Done():
						stop()
						return
					}
				}
			}
		}
	}()

	return out, stop, nil
}

// matchingDevices walks BlueZ's managed objects for devices under this
// adapter advertising the profile service, skipping already-seen IDs.
func (b *BlueZ) matchingDevices(conn *dbus.Conn, seen map[string]bool) []Candidate {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := conn.Object(bluezBus, "/").Call(dbusObjectManager+".GetManagedObjects", 0)
	if call.Err != nil || call.Store(&objects) != nil {
		return nil
	}

	prefix := string(b.adapterPath()) + "/"
	var found []Candidate
	for path, ifaces := range objects {
		devProps, ok := ifaces[bluezDevice1]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		uuids, _ := devProps["UUIDs"].Value().([]string)
		if !containsUUID(uuids, b.profile.ServiceUUID) {
			continue
		}
		address, _ := devProps["Address"].Value().(string)
		if address == "" || seen[address] {
			continue
		}
		seen[address] = true

		cand := Candidate{ID: address}
		if name, ok := devProps["Name"].Value().(string); ok {
			cand.Name = name
		}
		if rssi, ok := devProps["RSSI"].Value().(int16); ok {
			cand.RSSI = int(rssi)
		}
		b.log.Debug().Str("address", cand.ID).Str("name", cand.Name).Int("rssi", cand.RSSI).Msg("candidate")
		found = append(found, cand)
	}
	return found
}

func (b *BlueZ) Connect(ctx context.Context, id string) (Conn, error) {
	if err := validateAddress(id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	conn, err := b.bus()
	if err != nil {
		return nil, err
	}

	path := b.devicePath(id)
	device := conn.Object(bluezBus, path)

	connected, err := getProperty[bool](conn, path, bluezDevice1, "Connected")
	if err != nil || !connected {
		callCtx, cancel := context.WithTimeout(ctx, bluezConnectTimeout)
		defer cancel()
		if call := device.CallWithContext(callCtx, bluezDevice1+".Connect", 0); call.Err != nil {
			return nil, fmt.Errorf("%w: connect %s: %v", ErrTransportUnavailable, id, call.Err)
		}
		time.Sleep(bluezConnectVerify)
		connected, err = getProperty[bool](conn, path, bluezDevice1, "Connected")
		if err != nil || !connected {
			return nil, fmt.Errorf("%w: %s did not confirm connection", ErrTransportUnavailable, id)
		}
	}

	name, _ := getProperty[string](conn, path, bluezDevice1, "Name")

	c := &bleConn{
		id:         id,
		name:       name,
		bus:        conn,
		devicePath: path,
		profile:    b.profile,
		log:        b.log.With().Str("device", id).Logger(),
		frames:     make(chan []byte, bluezFrameChanSize),
		done:       make(chan struct{}),
	}
	c.watchSignals()
	c.log.Debug().Str("name", name).Msg("device connected")
	return c, nil
}

// bleConn is one connected GATT device. Characteristic paths are empty
// until ResolveService succeeds.
type bleConn struct {
	id   string
	name string
	bus  *dbus.Conn
	log  zerolog.Logger

	devicePath dbus.ObjectPath
	profile    BLEProfile

	mu           sync.Mutex
	commandPath  dbus.ObjectPath
	responsePath dbus.ObjectPath

	sigCh  chan *dbus.Signal
	frames chan []byte
	done   chan struct{}

	failOnce sync.Once
	errMu    sync.Mutex
	err      error
}

func (c *bleConn) ID() string   { return c.id }
func (c *bleConn) Name() string { return c.name }

// watchSignals subscribes one signal stream for both the device's
// Connected property and, once resolved, the response characteristic's
// Value notifications.
func (c *bleConn) watchSignals() {
	rule := fmt.Sprintf(
		"type='signal',sender='%s',interface='%s',member='PropertiesChanged',path_namespace='%s'",
		bluezBus, dbusProperties, c.devicePath,
	)
	c.bus.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule)

	c.sigCh = make(chan *dbus.Signal, bluezSignalChanSize)
	c.bus.Signal(c.sigCh)
	go c.dispatch()
}

func (c *bleConn) dispatch() {
	defer close(c.frames)
	for {
		select {
		case <-c.done:
			return
		case sig, ok := <-c.sigCh:
			if !ok {
				c.fail(fmt.Errorf("bluez: signal stream closed"))
				return
			}
			if sig.Name != dbusProperties+".PropertiesChanged" || len(sig.Body) < 2 {
				continue
			}
			iface, _ := sig.Body[0].(string)
			changed, _ := sig.Body[1].(map[string]dbus.Variant)
			if changed == nil {
				continue
			}

			switch {
			case sig.Path == c.devicePath && iface == bluezDevice1:
				if v, ok := changed["Connected"]; ok {
					if up, _ := v.Value().(bool); !up {
						c.log.Warn().Msg("device reported disconnected")
						c.fail(fmt.Errorf("bluez: device disconnected"))
						return
					}
				}
			case sig.Path == c.currentResponsePath() && iface == bluezGattChar:
				v, ok := changed["Value"]
				if !ok {
					continue
				}
				raw, ok := v.Value().([]byte)
				if !ok || len(raw) == 0 {
					continue
				}
				select {
				case c.frames <- raw:
				default:
					c.log.Warn().Msg("notification buffer full, dropping frame")
				}
			}
		}
	}
}

func (c *bleConn) currentResponsePath() dbus.ObjectPath {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responsePath
}

func (c *bleConn) ResolveService(ctx context.Context) error {
	if err := c.waitServicesResolved(ctx); err != nil {
		return err
	}

	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := c.bus.Object(bluezBus, "/").Call(dbusObjectManager+".GetManagedObjects", 0)
	if call.Err != nil {
		return fmt.Errorf("%w: managed objects: %v", ErrIncompleteService, call.Err)
	}
	if err := call.Store(&objects); err != nil {
		return fmt.Errorf("%w: managed objects: %v", ErrIncompleteService, err)
	}

	var command, response dbus.ObjectPath
	prefix := string(c.devicePath) + "/"
	for path, ifaces := range objects {
		charProps, ok := ifaces[bluezGattChar]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		uuid, _ := charProps["UUID"].Value().(string)
		switch {
		case strings.EqualFold(uuid, c.profile.CommandUUID):
			command = path
		case strings.EqualFold(uuid, c.profile.ResponseUUID):
			response = path
		}
	}
	if command == "" {
		return fmt.Errorf("%w: command characteristic %s not found", ErrIncompleteService, c.profile.CommandUUID)
	}
	if response == "" {
		return fmt.Errorf("%w: response characteristic %s not found", ErrIncompleteService, c.profile.ResponseUUID)
	}

	c.mu.Lock()
	c.commandPath = command
	c.responsePath = response
	c.mu.Unlock()

	if call := c.bus.Object(bluezBus, response).Call(bluezGattChar+".StartNotify", 0); call.Err != nil {
		return fmt.Errorf("%w: start notify: %v", ErrIncompleteService, call.Err)
	}
	c.log.Debug().Str("command", string(command)).Str("response", string(response)).Msg("service resolved")
	return nil
}

func (c *bleConn) waitServicesResolved(ctx context.Context) error {
	guard := time.After(bluezResolveGuard)
	ticker := time.NewTicker(bluezResolvePoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return c.Err()
		case <-guard:
			return fmt.Errorf("%w: service discovery timed out", ErrIncompleteService)
		case <-ticker.C:
			resolved, err := getProperty[bool](c.bus, c.devicePath, bluezDevice1, "ServicesResolved")
			if err == nil && resolved {
				return nil
			}
		}
	}
}

// NegotiateMTU reads what BlueZ negotiated. The device property is
// tried first, then the command characteristic once resolved; both
// missing is a best-effort miss, not a failure of the connection.
func (c *bleConn) NegotiateMTU(ctx context.Context) (int, error) {
	if mtu, err := getProperty[uint16](c.bus, c.devicePath, bluezDevice1, "MTU"); err == nil && mtu > 0 {
		return int(mtu), nil
	}
	c.mu.Lock()
	command := c.commandPath
	c.mu.Unlock()
	if command != "" {
		if mtu, err := getProperty[uint16](c.bus, command, bluezGattChar, "MTU"); err == nil && mtu > 0 {
			return int(mtu), nil
		}
	}
	return 0, fmt.Errorf("bluez: mtu not reported")
}

func (c *bleConn) Write(ctx context.Context, raw []byte) error {
	select {
	case <-c.done:
		return c.Err()
	default:
	}
	c.mu.Lock()
	command := c.commandPath
	c.mu.Unlock()
	if command == "" {
		return fmt.Errorf("%w: service not resolved", ErrIncompleteService)
	}

	obj := c.bus.Object(bluezBus, command)
	call := obj.CallWithContext(ctx, bluezGattChar+".WriteValue", 0, raw, map[string]dbus.Variant{
		"type": dbus.MakeVariant("command"),
	})
	if call.Err != nil {
		return fmt.Errorf("bluez: write: %w", call.Err)
	}
	return nil
}

func (c *bleConn) Notifications() <-chan []byte { return c.frames }
func (c *bleConn) Done() <-chan struct{}        { return c.done }

func (c *bleConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *bleConn) Close() error {
	c.fail(ErrClosed)

	c.mu.Lock()
	response := c.responsePath
	c.mu.Unlock()
	if response != "" {
		c.bus.Object(bluezBus, response).Call(bluezGattChar+".StopNotify", 0)
	}
	c.bus.RemoveSignal(c.sigCh)
	c.bus.Object(bluezBus, c.devicePath).Call(bluezDevice1+".Disconnect", 0)
	// The system bus connection is shared process-wide and stays open.
	return nil
}

func (c *bleConn) fail(err error) {
	c.failOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)
	})
}

func containsUUID(uuids []string, want string) bool {
	for _, u := range uuids {
		if strings.EqualFold(u, want) {
			return true
		}
	}
	return false
}

func validateAddress(address string) error {
	parts := strings.Split(address, ":")
	if address == "" || len(parts) != 6 {
		return fmt.Errorf("invalid address %q (want XX:XX:XX:XX:XX:XX)", address)
	}
	for _, part := range parts {
		if len(part) != 2 {
			return fmt.Errorf("invalid address %q (want XX:XX:XX:XX:XX:XX)", address)
		}
		for _, r := range part {
			hex := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
			if !hex {
				return fmt.Errorf("invalid address %q (non-hex octet)", address)
			}
		}
	}
	return nil
}

func getProperty[T any](conn *dbus.Conn, path dbus.ObjectPath, iface, property string) (T, error) {
	var zero T
	variant, err := conn.Object(bluezBus, path).GetProperty(iface + "." + property)
	if err != nil {
		return zero, err
	}
	val, ok := variant.Value().(T)
	if !ok {
		return zero, fmt.Errorf("property %s.%s has unexpected type %T", iface, property, variant.Value())
	}
	return val, nil
}
