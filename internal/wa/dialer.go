// Package wa implements transport.Dialer on top of whatsmeow.
package wa

import (
	"context"
	"fmt"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCompanionReg"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	devstore "wa-gateway/internal/store"
	"wa-gateway/internal/transport"
)

var propsOnce sync.Once

// configureDeviceProps sets the companion identity shown in the phone's
// linked devices list. whatsmeow keeps these as package globals.
func configureDeviceProps(name string) {
	propsOnce.Do(func() {
		store.DeviceProps.Os = proto.String(name)
		store.DeviceProps.PlatformType = waCompanionReg.DeviceProps_CHROME.Enum()
		store.DeviceProps.RequireFullSync = proto.Bool(false)
	})
}

// Dialer opens whatsmeow connections for tenants.
type Dialer struct {
	devices *devstore.DeviceStore
	log     waLog.Logger
}

// NewDialer creates a Dialer backed by devices.
func NewDialer(devices *devstore.DeviceStore, deviceName string, log waLog.Logger) *Dialer {
	configureDeviceProps(deviceName)
	return &Dialer{
		devices: devices,
		log:     log.Sub("WA"),
	}
}

// Dial starts a connection for userID. When creds do not point at a paired
// device a QR pairing flow is started and its codes are delivered as
// pairing payload events.
func (d *Dialer) Dial(ctx context.Context, userID string, creds *transport.Credentials) (transport.Conn, error) {
	var jid string
	if creds != nil {
		jid = creds.JID
	}

	device, err := d.devices.Device(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	client := whatsmeow.NewClient(device, d.log.Sub(userID))
	// Reconnection is driven by the connector.
	client.EnableAutoReconnect = false
	client.AutoTrustIdentity = true
	client.ManualHistorySyncDownload = true
	client.GetMessageForRetry = func(requester, to types.JID, id types.MessageID) *waE2E.Message {
		return nil
	}

	c := newConn(client, userID, creds, d.log.Sub(userID))
	client.AddEventHandler(c.handleEvent)

	if device.ID == nil {
		qrChan, err := client.GetQRChannel(c.ctx)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to get QR channel: %w", err)
		}
		go c.pumpQR(qrChan)
	}

	c.emit(transport.Connecting())
	if err := client.Connect(); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return c, nil
}

// Purge deletes the device rows the credentials point at.
func (d *Dialer) Purge(ctx context.Context, creds *transport.Credentials) error {
	if !creds.Registered() {
		return nil
	}
	return d.devices.Delete(ctx, creds.JID)
}

var _ transport.Dialer = (*Dialer)(nil)
