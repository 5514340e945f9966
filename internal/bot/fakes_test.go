package bot

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/Xractz/whatsapp-assistant/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// sessionCall is one recorded call on fakeSession.
type sessionCall struct {
	op       string // "text", "media", "react"
	text     domain.TextMessage
	media    domain.MediaMessage
	reaction domain.Reaction
	at       time.Time
}

// fakeSession implements domain.Session in memory.
type fakeSession struct {
	mu    sync.Mutex
	calls []sessionCall
	next  int

	sendErr     error
	reactErr    error
	downloadErr error
	data        []byte

	participants []string
	groupErr     error

	updateResults []domain.ParticipantResult
	updateErr     error
	updatedIDs    []string
	updateAction  domain.ParticipantAction

	pictureURL string
	pictureErr error
	fetchData  []byte
	fetchMime  string
	pictureFor string
}

func (f *fakeSession) record(c sessionCall) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	c.at = time.Now()
	f.calls = append(f.calls, c)
	return "SENT" + strconv.Itoa(f.next)
}

func (f *fakeSession) SendText(ctx context.Context, msg domain.TextMessage) (domain.SentMessage, error) {
	if f.sendErr != nil {
		return domain.SentMessage{}, f.sendErr
	}
	id := f.record(sessionCall{op: "text", text: msg})
	return domain.SentMessage{ID: id, Timestamp: time.Now()}, nil
}

func (f *fakeSession) SendMedia(ctx context.Context, msg domain.MediaMessage) (domain.SentMessage, error) {
	if f.sendErr != nil {
		return domain.SentMessage{}, f.sendErr
	}
	id := f.record(sessionCall{op: "media", media: msg})
	return domain.SentMessage{ID: id, Timestamp: time.Now()}, nil
}

func (f *fakeSession) React(ctx context.Context, r domain.Reaction) error {
	f.record(sessionCall{op: "react", reaction: r})
	return f.reactErr
}

func (f *fakeSession) Download(ctx context.Context, media *domain.QuotedMedia) ([]byte, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return f.data, nil
}

func (f *fakeSession) GroupParticipants(ctx context.Context, chatID string) ([]string, error) {
	if f.groupErr != nil {
		return nil, f.groupErr
	}
	return f.participants, nil
}

func (f *fakeSession) UpdateParticipants(ctx context.Context, chatID string, ids []string, action domain.ParticipantAction) ([]domain.ParticipantResult, error) {
	f.updatedIDs = ids
	f.updateAction = action
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	if f.updateResults != nil {
		return f.updateResults, nil
	}
	results := make([]domain.ParticipantResult, len(ids))
	for i, id := range ids {
		results[i] = domain.ParticipantResult{ID: id, Status: 200}
	}
	return results, nil
}

func (f *fakeSession) ProfilePictureURL(ctx context.Context, id string) (string, error) {
	f.pictureFor = id
	if f.pictureErr != nil {
		return "", f.pictureErr
	}
	return f.pictureURL, nil
}

func (f *fakeSession) FetchURL(ctx context.Context, url string) ([]byte, string, error) {
	return f.fetchData, f.fetchMime, nil
}

func (f *fakeSession) snapshot() []sessionCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sessionCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// fakeAI implements domain.TextGenerator.
type fakeAI struct {
	mu      sync.Mutex
	answer  string
	err     error
	prompts []string
	panicky bool
}

func (f *fakeAI) Name() string { return "fake" }

func (f *fakeAI) Generate(ctx context.Context, prompt string) (string, error) {
	if f.panicky {
		panic("boom")
	}
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *fakeAI) Healthy(ctx context.Context) error { return nil }

// fakeTranscoder implements domain.StickerTranscoder.
type fakeTranscoder struct {
	gotData []byte
	gotMeta domain.StickerMetadata
	err     error
}

func (f *fakeTranscoder) Build(ctx context.Context, data []byte, meta domain.StickerMetadata) ([]byte, error) {
	f.gotData = data
	f.gotMeta = meta
	if f.err != nil {
		return nil, f.err
	}
	return []byte("RIFFwebp"), nil
}

// recordingSender captures progress actions.
type recordingSender struct {
	mu      sync.Mutex
	actions []domain.OutboundAction
	err     error
}

func (r *recordingSender) Send(ctx context.Context, a domain.OutboundAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, a)
	return r.err
}

// memoryAudit implements domain.CommandLog.
type memoryAudit struct {
	mu      sync.Mutex
	records []domain.CommandRecord
}

func (m *memoryAudit) Record(ctx context.Context, rec domain.CommandRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryAudit) Recent(ctx context.Context, limit int) ([]domain.CommandRecord, error) {
	return nil, errors.New("not implemented")
}

func (m *memoryAudit) Close() error { return nil }
