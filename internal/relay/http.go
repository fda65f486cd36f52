package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"cipherroom/internal/domain"
	"cipherroom/internal/logging"
)

// HTTP talks to the directory and room-key services.
type HTTP struct {
	Base string
	HTTP *http.Client
	log  *logrus.Entry
}

// NewHTTP returns a client for base. A zero timeout means no client timeout.
func NewHTTP(base string, timeout time.Duration) *HTTP {
	return &HTTP{
		Base: strings.TrimRight(base, "/"),
		HTTP: &http.Client{Timeout: timeout},
		log:  logging.For("relay"),
	}
}

// PublishKeys registers (or re-registers) this device's keys.
func (c *HTTP) PublishKeys(ctx context.Context, reg domain.KeyRegistration) error {
	return c.post(ctx, "/keys", reg, nil)
}

// FetchDevices returns a bundle for every well-formed device of user.
// Malformed device entries are logged and skipped. An unknown user yields no
// devices.
func (c *HTTP) FetchDevices(ctx context.Context, user domain.UserID) ([]domain.PreKeyBundle, error) {
	var out domain.UserKeys
	err := c.getJSON(ctx, "/keys/"+url.PathEscape(string(user)), &out)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	bundles := make([]domain.PreKeyBundle, 0, len(out.Devices))
	for _, d := range out.Devices {
		b, err := BundleFromWire(user, d)
		if err != nil {
			c.log.WithFields(logrus.Fields{
				"user":   user,
				"device": d.DeviceID,
			}).WithError(err).Warn("skipping malformed device bundle")
			continue
		}
		bundles = append(bundles, b)
	}
	return bundles, nil
}

// ListDevices returns the addresses of user's devices. No one-time pre-key is
// consumed. An unknown user yields no devices.
func (c *HTTP) ListDevices(ctx context.Context, user domain.UserID) ([]domain.DeviceAddress, error) {
	var out domain.DeviceList
	err := c.getJSON(ctx, "/devices/"+url.PathEscape(string(user)), &out)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	addrs := make([]domain.DeviceAddress, 0, len(out.Devices))
	for _, id := range out.Devices {
		if id == "" {
			continue
		}
		addrs = append(addrs, domain.DeviceAddress{UserID: user, DeviceID: id})
	}
	return addrs, nil
}

// FetchDevice returns the bundle of a single device, taking at most one of
// its one-time pre-keys. An unknown device yields domain.ErrRecordNotFound.
func (c *HTTP) FetchDevice(ctx context.Context, addr domain.DeviceAddress) (domain.PreKeyBundle, error) {
	var d domain.WireDevice
	path := "/keys/" + url.PathEscape(string(addr.UserID)) + "/" + url.PathEscape(string(addr.DeviceID))
	if err := c.getJSON(ctx, path, &d); err != nil {
		return domain.PreKeyBundle{}, err
	}
	if d.DeviceID != addr.DeviceID {
		return domain.PreKeyBundle{}, errors.Errorf("asked for device %s, got %q", addr, d.DeviceID)
	}
	b, err := BundleFromWire(addr.UserID, d)
	return b, errors.Wrapf(err, "bundle of %s", addr)
}

// PublishRoomKey uploads a room key record. A version that already exists
// yields domain.ErrVersionConflict.
func (c *HTTP) PublishRoomKey(ctx context.Context, room domain.RoomID, upload domain.RoomKeyUpload) error {
	return c.post(ctx, "/room/"+url.PathEscape(string(room))+"/shared-key", upload, nil)
}

// FetchRoomKey downloads the record of version, or the latest when version is 0.
func (c *HTTP) FetchRoomKey(ctx context.Context, room domain.RoomID, version domain.KeyVersion) (domain.RoomKeyRecord, error) {
	path := "/room/" + url.PathEscape(string(room)) + "/shared-key"
	if version != 0 {
		path += "/" + strconv.FormatUint(uint64(version), 10)
	}
	var out domain.RoomKeyRecord
	if err := c.getJSON(ctx, path, &out); err != nil {
		return domain.RoomKeyRecord{}, err
	}
	if out.RoomID == "" {
		out.RoomID = room
	}
	return out, nil
}

func (c *HTTP) post(ctx context.Context, path string, in any, out any) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return errors.Wrapf(err, "relay post %s", path)
	}
	defer resp.Body.Close()
	if err := statusError(http.MethodPost, path, resp); err != nil {
		return err
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *HTTP) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return errors.Wrapf(err, "relay get %s", path)
	}
	defer resp.Body.Close()
	if err := statusError(http.MethodGet, path, resp); err != nil {
		return err
	}
	return errors.Wrapf(json.NewDecoder(resp.Body).Decode(out), "decode %s", path)
}

// statusError maps non-2xx statuses; 404 and 409 become domain sentinels.
func statusError(method, path string, resp *http.Response) error {
	if resp.StatusCode/100 == 2 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := fmt.Sprintf("relay %s %s: %s", strings.ToLower(method), path, resp.Status)
	if s := strings.TrimSpace(string(body)); s != "" {
		msg += ": " + s
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return errors.Wrap(domain.ErrRecordNotFound, msg)
	case http.StatusConflict:
		return errors.Wrap(domain.ErrVersionConflict, msg)
	default:
		return errors.New(msg)
	}
}

var _ domain.RelayClient = (*HTTP)(nil)
