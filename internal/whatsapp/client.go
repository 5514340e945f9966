package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	// sqlite driver for the credential store
	_ "modernc.org/sqlite"

	"github.com/Xractz/whatsapp-assistant/internal/bus"
	"github.com/Xractz/whatsapp-assistant/internal/domain"
	"github.com/Xractz/whatsapp-assistant/internal/metrics"
)

const (
	sessionFile     = "session.db"
	maxFetchSize    = 10 << 20
	pairDisplayName = "Chrome (Linux)"
)

// Config configures the whatsmeow-backed session.
type Config struct {
	SessionDir string
	DeviceName string // shown in the phone's linked devices list
	PairPhone  string // non-empty: log in with a pairing code instead of a QR code
	Bus        domain.MessageBus
	Events     *bus.EventBus // optional
	Logger     *slog.Logger
	QRWriter   io.Writer // defaults to stdout
	Backoff    Backoff
	AlertAfter int
}

// Client implements domain.Session over a linked-device WhatsApp connection.
type Client struct {
	cfg        Config
	wa         *whatsmeow.Client
	container  *sqlstore.Container
	supervisor *Supervisor
	http       *http.Client
	logger     *slog.Logger
}

// SessionPath returns the credential database path inside dir.
func SessionPath(dir string) string {
	return filepath.Join(dir, sessionFile)
}

func sessionDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
}

// New opens the credential store and prepares the client. It does not connect.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.QRWriter == nil {
		cfg.QRWriter = os.Stdout
	}
	if err := os.MkdirAll(cfg.SessionDir, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	if cfg.DeviceName != "" {
		store.DeviceProps.Os = proto.String(cfg.DeviceName)
	}

	container, err := sqlstore.New(ctx, "sqlite", sessionDSN(SessionPath(cfg.SessionDir)), NewLogger(cfg.Logger, "store"))
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("load device: %w", err)
	}

	wa := whatsmeow.NewClient(device, NewLogger(cfg.Logger, "whatsmeow"))
	wa.EnableAutoReconnect = false

	c := &Client{
		cfg:       cfg,
		wa:        wa,
		container: container,
		http:      &http.Client{Timeout: 30 * time.Second},
		logger:    cfg.Logger,
	}
	c.supervisor = NewSupervisor(SupervisorConfig{
		Conn:       wa,
		Policy:     cfg.Backoff,
		AlertAfter: cfg.AlertAfter,
		Events:     cfg.Events,
		Logger:     cfg.Logger.With("component", "supervisor"),
	})
	wa.AddEventHandler(c.handleEvent)
	return c, nil
}

func (c *Client) Name() string { return "whatsapp" }

// LoggedIn reports whether the store holds linked-device credentials.
func (c *Client) LoggedIn() bool {
	return c.wa.Store.ID != nil
}

// Run connects (logging in first when needed) and keeps the connection alive
// until ctx is done. It returns ErrLoggedOut when the device is unlinked.
func (c *Client) Run(ctx context.Context) error {
	defer c.wa.Disconnect()

	if !c.LoggedIn() {
		if err := c.login(ctx); err != nil {
			return err
		}
	} else if err := c.wa.Connect(); err != nil {
		c.logger.Warn("initial connect failed", "error", err)
		c.supervisor.Notify(sigDisconnected)
	}

	return c.supervisor.Run(ctx)
}

// login links a new device with a QR code or, when configured, a pairing code.
func (c *Client) login(ctx context.Context) error {
	qrChan, err := c.wa.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("qr channel: %w", err)
	}
	if err := c.wa.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	paired := false
	for item := range qrChan {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			if c.cfg.PairPhone == "" {
				fmt.Fprintln(c.cfg.QRWriter, "Scan this QR code with WhatsApp > Linked devices:")
				qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, c.cfg.QRWriter)
				c.emit(bus.EventPairing, "", map[string]any{"method": "qr", "expires": item.Timeout.String()})
				continue
			}
			if paired {
				continue
			}
			code, err := c.wa.PairPhone(ctx, c.cfg.PairPhone, true, whatsmeow.PairClientChrome, pairDisplayName)
			if err != nil {
				return fmt.Errorf("pair phone: %w", err)
			}
			paired = true
			fmt.Fprintf(c.cfg.QRWriter, "Pairing code: %s\n", code)
			c.logger.Info("pairing code issued", "phone", domain.UserPart(c.cfg.PairPhone))
			c.emit(bus.EventPairing, "", map[string]any{"method": "code", "code": code})
		case whatsmeow.QRChannelSuccess.Event:
			c.logger.Info("device linked")
			return nil
		case whatsmeow.QRChannelEventError:
			return fmt.Errorf("login: %w", item.Error)
		default:
			return fmt.Errorf("login failed: %s", item.Event)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.New("login aborted")
}

// Logout unlinks the device and deletes its credentials.
func (c *Client) Logout(ctx context.Context) error {
	if !c.LoggedIn() {
		return nil
	}
	if !c.wa.IsConnected() {
		if err := c.wa.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
	}
	if err := c.waitLoggedIn(ctx, 15*time.Second); err != nil {
		return err
	}
	if err := c.wa.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// waitLoggedIn waits for the handshake after Connect to finish.
func (c *Client) waitLoggedIn(ctx context.Context, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for !c.wa.IsLoggedIn() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return domain.ErrNotConnected
		case <-tick.C:
		}
	}
	return nil
}

// Close disconnects and releases the credential store.
func (c *Client) Close() error {
	c.wa.Disconnect()
	return c.container.Close()
}

func (c *Client) emit(eventType string, state domain.ConnectionState, payload map[string]any) {
	if c.cfg.Events == nil {
		return
	}
	if state != "" {
		if payload == nil {
			payload = make(map[string]any, 1)
		}
		payload["state"] = state
	}
	c.cfg.Events.EmitAsync(bus.Event{Type: eventType, Source: "whatsapp", Payload: payload})
}

func (c *Client) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.Message:
		c.onMessage(v)
	case *events.Connected:
		metrics.Connected.Set(1)
		if c.wa != nil && c.wa.Store.ID != nil {
			c.logger.Info("connected", "as", c.wa.Store.ID.User)
		}
		c.supervisor.Notify(sigConnected)
		c.emit(bus.EventConnected, domain.StateOpen, nil)
	case *events.Disconnected:
		c.disconnected("disconnected")
	case *events.StreamReplaced:
		c.disconnected("stream replaced")
	case *events.ConnectFailure:
		c.disconnected(fmt.Sprintf("connect failure: %s %s", v.Reason, v.Message))
	case *events.TemporaryBan:
		c.logger.Error("temporary ban", "reason", v.String())
		c.disconnected("temporary ban")
	case *events.KeepAliveTimeout:
		c.logger.Warn("keepalive timeout", "errors", v.ErrorCount)
	case *events.LoggedOut:
		metrics.Connected.Set(0)
		c.logger.Error("device logged out", "reason", v.Reason.String())
		c.supervisor.Notify(sigLoggedOut)
		c.emit(bus.EventLoggedOut, domain.StateLoggedOut, map[string]any{"reason": v.Reason.String()})
	case *events.PairSuccess:
		c.logger.Info("pair success", "id", v.ID.User, "platform", v.Platform)
	}
}

func (c *Client) disconnected(reason string) {
	metrics.Connected.Set(0)
	c.logger.Warn("connection closed", "reason", reason)
	c.supervisor.Notify(sigDisconnected)
	c.emit(bus.EventDisconnected, domain.StateClosed, map[string]any{"reason": reason})
}

func (c *Client) onMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.Chat == types.StatusBroadcastJID {
		return
	}
	in := toInbound(evt)
	c.logger.Debug("whatsapp message received",
		"chat", domain.UserPart(in.ChatID), "from_me", in.FromMe, "text_len", len(in.Text))
	c.cfg.Bus.Publish(in)
}

// --- domain.Session ---

func (c *Client) SendText(ctx context.Context, msg domain.TextMessage) (domain.SentMessage, error) {
	chat, err := parseJID(msg.ChatID)
	if err != nil {
		return domain.SentMessage{}, err
	}
	content := buildText(msg)
	if msg.EditID != "" {
		content = c.wa.BuildEdit(chat, msg.EditID, content)
	}
	return c.send(ctx, chat, content)
}

func (c *Client) SendMedia(ctx context.Context, msg domain.MediaMessage) (domain.SentMessage, error) {
	chat, err := parseJID(msg.ChatID)
	if err != nil {
		return domain.SentMessage{}, err
	}
	mediaType, err := uploadType(msg.Kind)
	if err != nil {
		return domain.SentMessage{}, err
	}
	if !c.wa.IsConnected() {
		return domain.SentMessage{}, domain.ErrNotConnected
	}
	up, err := c.wa.Upload(ctx, msg.Data, mediaType)
	if err != nil {
		return domain.SentMessage{}, fmt.Errorf("upload %s: %w", msg.Kind, err)
	}
	content, err := buildMedia(msg, up)
	if err != nil {
		return domain.SentMessage{}, err
	}
	return c.send(ctx, chat, content)
}

func (c *Client) React(ctx context.Context, r domain.Reaction) error {
	chat, err := parseJID(r.ChatID)
	if err != nil {
		return err
	}
	sender := types.EmptyJID
	if r.SenderID != "" {
		if sender, err = parseJID(r.SenderID); err != nil {
			return err
		}
	}
	_, err = c.send(ctx, chat, c.wa.BuildReaction(chat, sender, r.TargetID, r.Emoji))
	return err
}

func (c *Client) send(ctx context.Context, chat types.JID, content *waE2E.Message) (domain.SentMessage, error) {
	if !c.wa.IsConnected() {
		return domain.SentMessage{}, domain.ErrNotConnected
	}
	resp, err := c.wa.SendMessage(ctx, chat, content)
	if err != nil {
		return domain.SentMessage{}, fmt.Errorf("send to %s: %w", domain.UserPart(chat.String()), err)
	}
	return domain.SentMessage{ID: resp.ID, Timestamp: resp.Timestamp}, nil
}

func (c *Client) Download(ctx context.Context, media *domain.QuotedMedia) ([]byte, error) {
	if !media.Downloadable() {
		return nil, domain.ErrNoQuotedMedia
	}
	dm, ok := media.Media.(whatsmeow.DownloadableMessage)
	if !ok {
		return nil, fmt.Errorf("%w: %T", domain.ErrUnsupportedMedia, media.Media)
	}
	data, err := c.wa.Download(ctx, dm)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", media.Kind, err)
	}
	return data, nil
}

func (c *Client) GroupParticipants(ctx context.Context, chatID string) ([]string, error) {
	group, err := parseJID(chatID)
	if err != nil {
		return nil, err
	}
	info, err := c.wa.GetGroupInfo(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("group info: %w", err)
	}
	ids := make([]string, 0, len(info.Participants))
	for _, p := range info.Participants {
		ids = append(ids, addr(p.JID))
	}
	return ids, nil
}

var participantChanges = map[domain.ParticipantAction]whatsmeow.ParticipantChange{
	domain.ParticipantAdd:     whatsmeow.ParticipantChangeAdd,
	domain.ParticipantRemove:  whatsmeow.ParticipantChangeRemove,
	domain.ParticipantPromote: whatsmeow.ParticipantChangePromote,
	domain.ParticipantDemote:  whatsmeow.ParticipantChangeDemote,
}

func (c *Client) UpdateParticipants(ctx context.Context, chatID string, ids []string, action domain.ParticipantAction) ([]domain.ParticipantResult, error) {
	change, ok := participantChanges[action]
	if !ok {
		return nil, fmt.Errorf("unknown participant action %q", action)
	}
	group, err := parseJID(chatID)
	if err != nil {
		return nil, err
	}
	members, err := parseJIDs(ids)
	if err != nil {
		return nil, err
	}
	res, err := c.wa.UpdateGroupParticipants(ctx, group, members, change)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ParticipantResult, 0, len(res))
	for _, p := range res {
		out = append(out, domain.ParticipantResult{ID: addr(p.JID), Status: p.Error})
	}
	return out, nil
}

func (c *Client) ProfilePictureURL(ctx context.Context, id string) (string, error) {
	jid, err := parseJID(id)
	if err != nil {
		return "", err
	}
	info, err := c.wa.GetProfilePictureInfo(ctx, jid, &whatsmeow.GetProfilePictureParams{})
	switch {
	case errors.Is(err, whatsmeow.ErrProfilePictureNotSet), errors.Is(err, whatsmeow.ErrProfilePictureUnauthorized):
		return "", domain.ErrNoProfilePicture
	case err != nil:
		return "", err
	case info == nil || info.URL == "":
		return "", domain.ErrNoProfilePicture
	}
	return info.URL, nil
}

// FetchURL downloads a media URL, returning its bytes and content type.
func (c *Client) FetchURL(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxFetchSize {
		return nil, "", fmt.Errorf("fetch: body exceeds %d bytes", maxFetchSize)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
