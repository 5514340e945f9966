package bot

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"golang.org/x/time/rate"

	"github.com/Xractz/whatsapp-assistant/internal/bus"
	"github.com/Xractz/whatsapp-assistant/internal/config"
	"github.com/Xractz/whatsapp-assistant/internal/domain"
)

const (
	dmChat    = "628111@s.whatsapp.net"
	groupChat = "120363000000@g.us"
)

type testEnv struct {
	session  *fakeSession
	ai       *fakeAI
	stickers *fakeTranscoder
	sender   *recordingSender
	audit    *memoryAudit
	d        *Dispatcher
}

func newTestEnv(guard string) *testEnv {
	env := &testEnv{
		session:  &fakeSession{},
		ai:       &fakeAI{answer: "4"},
		stickers: &fakeTranscoder{},
		sender:   &recordingSender{},
		audit:    &memoryAudit{},
	}
	env.d = NewDispatcher(DispatcherConfig{
		Session:  env.session,
		AI:       env.ai,
		Stickers: env.stickers,
		StickerMeta: domain.StickerMetadata{
			PackID:     "22222",
			Author:     "Sticker",
			Pack:       "BOT",
			Categories: []string{"🤩", "🎉"},
			Quality:    70,
			Background: "transparent",
		},
		Sender:     env.sender,
		GroupGuard: guard,
		Audit:      env.audit,
		Logger:     testLogger(),
	})
	return env
}

func selfDM(text string) domain.InboundMessage {
	return domain.InboundMessage{ID: "CMD1", ChatID: dmChat, FromMe: true, Text: text}
}

func selfGroup(text string) domain.InboundMessage {
	return domain.InboundMessage{ID: "CMD1", ChatID: groupChat, FromMe: true, IsGroup: true, Text: text}
}

func quotedImage() *domain.QuotedMedia {
	return &domain.QuotedMedia{Kind: domain.ContentImage, Tag: "imageMessage", MimeType: "image/jpeg", Media: struct{}{}}
}

// --- Scenarios ---

func TestDispatch_AIScenario(t *testing.T) {
	env := newTestEnv(config.GuardOwnerInGroup)

	actions := env.d.Dispatch(context.Background(), selfDM(".ai what is 2+2"))

	if len(env.ai.prompts) != 1 || env.ai.prompts[0] != "what is 2+2" {
		t.Fatalf("expected prompt 'what is 2+2', got %v", env.ai.prompts)
	}

	if len(env.sender.actions) != 1 {
		t.Fatalf("expected 1 progress action, got %d", len(env.sender.actions))
	}
	wait := env.sender.actions[0]
	if wait.Kind != domain.ActionEdit || wait.Text != "waitt.." || wait.TargetID != "CMD1" || !wait.NoReaction {
		t.Fatalf("unexpected wait notice: %+v", wait)
	}

	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(actions))
	}
	got := actions[0]
	if got.Kind != domain.ActionEdit || got.TargetID != "CMD1" {
		t.Fatalf("expected edit of command message, got %+v", got)
	}
	if !strings.Contains(got.Text, "what is 2+2") || !strings.Contains(got.Text, "4") {
		t.Fatalf("reply should contain prompt and answer: %q", got.Text)
	}
	if got.Text != "*Prompt :* ```what is 2+2```\n\n4" {
		t.Fatalf("unexpected reply format: %q", got.Text)
	}
	if got.NoReaction {
		t.Fatal("final answer should be acknowledged with a reaction")
	}
}

func TestDispatch_AIFailureRepliesWithErrorTag(t *testing.T) {
	env := newTestEnv(config.GuardOwnerInGroup)
	env.ai.err = errors.New("API key not valid")

	actions := env.d.Dispatch(context.Background(), selfDM(".ai hello"))

	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(actions))
	}
	if actions[0].Text != "[ERROR] API key not valid" {
		t.Fatalf("unexpected error reply %q", actions[0].Text)
	}
	if len(env.audit.records) != 1 || env.audit.records[0].Status != domain.StatusFailed {
		t.Fatalf("expected failed audit record, got %+v", env.audit.records)
	}
}

func TestDispatch_AIRateLimited(t *testing.T) {
	env := newTestEnv(config.GuardOwnerInGroup)
	env.d.aiLimiter = rate.NewLimiter(rate.Limit(0), 1)

	env.d.Dispatch(context.Background(), selfDM(".ai one"))
	actions := env.d.Dispatch(context.Background(), selfDM(".ai two"))

	if len(env.ai.prompts) != 1 {
		t.Fatalf("second request should be rejected locally, prompts=%v", env.ai.prompts)
	}
	if len(actions) != 1 || !strings.HasPrefix(actions[0].Text, "[ERROR]") {
		t.Fatalf("expected error reply, got %+v", actions)
	}
}

func TestDispatch_AIEmptyPrompt(t *testing.T) {
	env := newTestEnv(config.GuardOwnerInGroup)

	actions := env.d.Dispatch(context.Background(), selfDM(".ai"))
	if len(env.ai.prompts) != 0 {
		t.Fatal("generator should not be called without a prompt")
	}
	if len(actions) != 1 || !strings.HasPrefix(actions[0].Text, "[ERROR]") {
		t.Fatalf("expected error reply, got %+v", actions)
	}
}

func TestDispatch_StickerScenario(t *testing.T) {
	env := newTestEnv(config.GuardOwnerInGroup)
	env.session.data = []byte("jpeg-bytes")

	msg := selfDM(".sticker")
	msg.Quoted = quotedImage()
	actions := env.d.Dispatch(context.Background(), msg)

	if string(env.stickers.gotData) != "jpeg-bytes" {
		t.Fatalf("transcoder should receive downloaded bytes, got %q", env.stickers.gotData)
	}
	meta := env.stickers.gotMeta
	if meta.Quality != 70 || meta.Author != "Sticker" || meta.Pack != "BOT" {
		t.Fatalf("unexpected sticker metadata: %+v", meta)
	}
	if len(actions) != 1 || actions[0].Kind != domain.ActionMedia || actions[0].Media != domain.MediaSticker {
		t.Fatalf("expected sticker media action, got %+v", actions)
	}
}

func TestDispatch_StickerFromOwnImage(t *testing.T) {
	env := newTestEnv(config.GuardOwnerInGroup)
	env.session.data = []byte("own")

	msg := selfDM(".sticker")
	msg.Own = quotedImage()
	actions := env.d.Dispatch(context.Background(), msg)

	if string(env.stickers.gotData) != "own" {
		t.Fatalf("expected own image bytes, got %q", env.stickers.gotData)
	}
	if len(actions) != 1 || actions[0].Media != domain.MediaSticker {
		t.Fatalf("expected sticker, got %+v", actions)
	}
}

func TestDispatch_StickerFailureRepliesQuoted(t *testing.T) {
	env := newTestEnv(config.GuardOwnerInGroup)
	env.session.data = []byte("x")
	env.stickers.err = errors.New("unsupported image")

	msg := selfDM(".sticker")
	msg.Quoted = quotedImage()
	actions := env.d.Dispatch(context.Background(), msg)

	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(actions))
	}
	if !strings.HasPrefix(actions[0].Text, "[ERROR] ") || actions[0].Quote == nil || actions[0].Quote.ID != "CMD1" {
		t.Fatalf("expected quoted error reply, got %+v", actions[0])
	}
}

func TestDispatch_TagAllScenario(t *testing.T) {
	env := newTestEnv(config.GuardOwnerInGroup)
	env.session.participants = []string{"628111@s.whatsapp.net", "628222@s.whatsapp.net", "628333@s.whatsapp.net"}

	actions := env.d.Dispatch(context.Background(), selfGroup(".tagall"))

	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(actions))
	}
	got := actions[0]
	if got.Text != "PING!!!" {
		t.Fatalf("expected PING!!!, got %q", got.Text)
	}
	if got.Kind != domain.ActionEdit || got.TargetID != "CMD1" {
		t.Fatalf("expected edit of the command message, got %+v", got)
	}
	if len(got.Mentions) != 3 {
		t.Fatalf("expected every participant mentioned, got %v", got.Mentions)
	}
}

func TestDispatch_TagUsesArgs(t *testing.T) {
	env := newTestEnv(config.GuardOwnerInGroup)
	env.session.participants = []string{"628111@s.whatsapp.net"}

	actions := env.d.Dispatch(context.Background(), selfGroup(".tag Meeting at 5"))
	if len(actions) != 1 || actions[0].Text != "meeting at 5" {
		t.Fatalf("expected caller text (lowercased), got %+v", actions)
	}
}

func TestDispatch_TagAllMetadataFailureLogsOnly(t *testing.T) {
	env := newTestEnv(config.GuardOwnerInGroup)
	env.session.groupErr = errors.New("not a participant")

	actions := env.d.Dispatch(context.Background(), selfGroup(".tagall"))
	if len(actions) != 0 {
		t.Fatalf("expected no reply, got %+v", actions)
	}
	if env.audit.records[0].Status != domain.StatusFailed {
		t.Fatalf("expected failed status, got %s", env.audit.records[0].Status)
	}
}

func TestDispatch_UnknownCommandIsNoOp(t *testing.T) {
	env := newTestEnv(config.GuardOwnerInGroup)

	actions := env.d.Dispatch(context.Background(), selfDM(".bogus"))

	if actions != nil {
		t.Fatalf("expected no actions, got %+v", actions)
	}
	if len(env.sender.actions) != 0 || len(env.session.snapshot()) != 0 {
		t.Fatal("unknown command must not send anything")
	}
	if len(env.audit.records) != 0 {
		t.Fatal("unknown command must not be recorded")
	}
}

func TestDispatch_NotACommand(t *testing.T) {
	env := newTestEnv(config.GuardOwnerInGroup)
	for _, text := range []string{"", "hello", "ai what", ". ai"} {
		if actions := env.d.Dispatch(context.Background(), selfDM(text)); actions != nil {
			t.Fatalf("text %q should not dispatch, got %+v", text, actions)
		}
	}
	if len(env.ai.prompts) != 0 {
		t.Fatal("no handler should run")
	}
}

// --- Authorization ---

func TestDispatch_SelfOnlyRejectsOthers(t *testing.T) {
	env := newTestEnv(config.GuardOwnerInGroup)

	msg := selfDM(".ai hi")
	msg.FromMe = false
	if actions := env.d.Dispatch(context.Background(), msg); actions != nil {
		t.Fatalf("expected no actions, got %+v", actions)
	}
	if len(env.ai.prompts) != 0 {
		t.Fatal("handler must not run for messages from others")
	}
	if len(env.audit.records) != 1 || env.audit.records[0].Status != domain.StatusDenied {
		t.Fatalf("expected denied record, got %+v", env.audit.records)
	}
}

func TestPermitted_GroupGuards(t *testing.T) {
	tests := []struct {
		guard   string
		fromMe  bool
		isGroup bool
		want    bool
	}{
		{config.GuardOwnerInGroup, true, true, true},
		{config.GuardOwnerInGroup, true, false, false},
		{config.GuardOwnerInGroup, false, true, false},
		{config.GuardOwnerInGroup, false, false, false},
		{config.GuardLiteral, true, true, true},
		{config.GuardLiteral, true, false, true},
		{config.GuardLiteral, false, true, false},
		{config.GuardLiteral, false, false, true},
	}
	for _, tt := range tests {
		env := newTestEnv(tt.guard)
		msg := domain.InboundMessage{FromMe: tt.fromMe, IsGroup: tt.isGroup}
		if got := env.d.permitted(scopeGroupAdmin, msg); got != tt.want {
			t.Errorf("guard=%s fromMe=%v group=%v: expected %v, got %v", tt.guard, tt.fromMe, tt.isGroup, tt.want, got)
		}
	}
}

func TestDispatch_GroupCommandFromOthersInGroupRejected(t *testing.T) {
	for _, guard := range []string{config.GuardOwnerInGroup, config.GuardLiteral} {
		env := newTestEnv(guard)
		env.session.participants = []string{"628111@s.whatsapp.net"}

		msg := selfGroup(".tagall")
		msg.FromMe = false
		if actions := env.d.Dispatch(context.Background(), msg); actions != nil {
			t.Fatalf("guard %s: expected rejection, got %+v", guard, actions)
		}
	}
}

// --- Membership ---

func TestNormalizeNumbers(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"628123 +62 812-456", []string{"628123@s.whatsapp.net", "62@s.whatsapp.net", "812456@s.whatsapp.net"}},
		{"@628123", []string{"628123@s.whatsapp.net"}},
		{"628123@s.whatsapp.net", []string{"628123@s.whatsapp.net"}},
		{"abc", nil},
		{"", nil},
	}
	for _, tt := range tests {
		got := NormalizeNumbers(tt.in)
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("NormalizeNumbers(%q): expected %v, got %v", tt.in, tt.want, got)
		}
	}
}

func TestDispatch_MembershipCommands(t *testing.T) {
	tests := []struct {
		keyword string
		action  domain.ParticipantAction
		verb    string
	}{
		{"add", domain.ParticipantAdd, "added"},
		{"rm", domain.ParticipantRemove, "removed"},
		{"promote", domain.ParticipantPromote, "promoted"},
		{"demote", domain.ParticipantDemote, "demoted"},
	}
	for _, tt := range tests {
		t.Run(tt.keyword, func(t *testing.T) {
			env := newTestEnv(config.GuardOwnerInGroup)

			actions := env.d.Dispatch(context.Background(), selfGroup("."+tt.keyword+" +62811-111 628222"))

			if env.session.updateAction != tt.action {
				t.Fatalf("expected action %s, got %s", tt.action, env.session.updateAction)
			}
			want := "62811111@s.whatsapp.net,628222@s.whatsapp.net"
			if strings.Join(env.session.updatedIDs, ",") != want {
				t.Fatalf("expected ids %s, got %v", want, env.session.updatedIDs)
			}
			if len(actions) != 1 || !strings.Contains(actions[0].Text, "@628222 "+tt.verb) {
				t.Fatalf("expected announcement, got %+v", actions)
			}
			if len(actions[0].Mentions) != 2 {
				t.Fatalf("expected mentions, got %v", actions[0].Mentions)
			}
		})
	}
}

func TestDispatch_MembershipPartialFailure(t *testing.T) {
	env := newTestEnv(config.GuardOwnerInGroup)
	env.session.updateResults = []domain.ParticipantResult{
		{ID: "628111@s.whatsapp.net", Status: 200},
		{ID: "628222@s.whatsapp.net", Status: 403},
	}

	actions := env.d.Dispatch(context.Background(), selfGroup(".add 628111 628222"))

	if len(actions) != 1 {
		t.Fatalf("expected announcement, got %+v", actions)
	}
	if !strings.Contains(actions[0].Text, "@628111 added") || !strings.Contains(actions[0].Text, "@628222 failed (403)") {
		t.Fatalf("unexpected announcement %q", actions[0].Text)
	}
	if env.audit.records[0].Status != domain.StatusFailed || !strings.Contains(env.audit.records[0].Error, "628222:403") {
		t.Fatalf("expected partial failure recorded, got %+v", env.audit.records[0])
	}
}

// --- see / pp ---

func TestDispatch_SeeResendsQuotedMedia(t *testing.T) {
	env := newTestEnv(config.GuardOwnerInGroup)
	env.session.data = []byte("voice")

	msg := selfDM(".see")
	msg.Quoted = &domain.QuotedMedia{Kind: domain.ContentAudio, Tag: "audioMessage", MimeType: "audio/ogg; codecs=opus", ViewOnce: true, Media: struct{}{}}
	actions := env.d.Dispatch(context.Background(), msg)

	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(actions))
	}
	a := actions[0]
	if a.Media != domain.MediaAudio || !a.Voice || a.MimeType != "audio/ogg; codecs=opus" || string(a.Data) != "voice" {
		t.Fatalf("unexpected media action %+v", a)
	}
}

func TestDispatch_SeeWithoutQuotedMediaIsSilent(t *testing.T) {
	env := newTestEnv(config.GuardOwnerInGroup)

	actions := env.d.Dispatch(context.Background(), selfDM(".see"))
	if len(actions) != 0 {
		t.Fatalf("expected silence, got %+v", actions)
	}
	if env.audit.records[0].Status != domain.StatusSkipped {
		t.Fatalf("expected skipped, got %s", env.audit.records[0].Status)
	}
}

func TestDispatch_SeeDownloadFailureIsSilent(t *testing.T) {
	env := newTestEnv(config.GuardOwnerInGroup)
	env.session.downloadErr = errors.New("media expired")

	msg := selfDM(".see")
	msg.Quoted = quotedImage()
	if actions := env.d.Dispatch(context.Background(), msg); len(actions) != 0 {
		t.Fatalf("expected silence, got %+v", actions)
	}
}

func TestProfileTarget(t *testing.T) {
	msg := domain.InboundMessage{ChatID: groupChat, QuotedBy: "628999@s.whatsapp.net"}

	if got := profileTarget(msg, "+62 812-3456"); got != "628123456@s.whatsapp.net" {
		t.Fatalf("expected number target, got %s", got)
	}
	if got := profileTarget(msg, ""); got != "628999@s.whatsapp.net" {
		t.Fatalf("expected quoted author, got %s", got)
	}
	msg.QuotedBy = ""
	if got := profileTarget(msg, ""); got != groupChat {
		t.Fatalf("expected chat, got %s", got)
	}
}

func TestDispatch_ProfilePicture(t *testing.T) {
	env := newTestEnv(config.GuardOwnerInGroup)
	env.session.pictureURL = "https://pps.example/p.jpg"
	env.session.fetchData = []byte("jpg")
	env.session.fetchMime = "image/jpeg"

	actions := env.d.Dispatch(context.Background(), selfDM(".pp 628123"))
	if env.session.pictureFor != "628123@s.whatsapp.net" {
		t.Fatalf("unexpected target %s", env.session.pictureFor)
	}
	if len(actions) != 1 || actions[0].Media != domain.MediaImage || string(actions[0].Data) != "jpg" {
		t.Fatalf("expected image reply, got %+v", actions)
	}
}

func TestDispatch_GroupProfilePictureUsesChat(t *testing.T) {
	env := newTestEnv(config.GuardOwnerInGroup)
	env.session.pictureURL = "u"

	env.d.Dispatch(context.Background(), selfGroup(".gpp 628123"))
	if env.session.pictureFor != groupChat {
		t.Fatalf("gpp should target the current chat, got %s", env.session.pictureFor)
	}
}

func TestDispatch_NoProfilePictureMentionsTarget(t *testing.T) {
	env := newTestEnv(config.GuardOwnerInGroup)
	env.session.pictureErr = domain.ErrNoProfilePicture

	actions := env.d.Dispatch(context.Background(), selfDM(".pp 628123"))
	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(actions))
	}
	if actions[0].Text != "@628123 has no profile picture" {
		t.Fatalf("unexpected text %q", actions[0].Text)
	}
	if len(actions[0].Mentions) != 1 || actions[0].Mentions[0] != "628123@s.whatsapp.net" {
		t.Fatalf("expected target mention, got %v", actions[0].Mentions)
	}
}

// --- Boundaries ---

func TestDispatch_RecoversHandlerPanic(t *testing.T) {
	env := newTestEnv(config.GuardOwnerInGroup)
	env.ai.panicky = true

	actions := env.d.Dispatch(context.Background(), selfDM(".ai hi"))
	if actions != nil {
		t.Fatalf("expected no actions after panic, got %+v", actions)
	}
	rec := env.audit.records[0]
	if rec.Status != domain.StatusFailed || !strings.Contains(rec.Error, "panic") {
		t.Fatalf("expected panic recorded as failure, got %+v", rec)
	}
}

func TestDispatch_EmitsEvents(t *testing.T) {
	env := newTestEnv(config.GuardOwnerInGroup)
	events := bus.NewEventBus(testLogger())
	env.d.events = events

	var handled, failed int
	events.On(bus.EventCommandHandled, func(e bus.Event) { handled++ })
	events.On(bus.EventCommandFailed, func(e bus.Event) {
		failed++
		rec, ok := e.Payload["record"].(domain.CommandRecord)
		if !ok || rec.Command != "ai" {
			t.Errorf("unexpected payload %+v", e.Payload)
		}
	})

	env.d.Dispatch(context.Background(), selfDM(".ai ok"))
	env.ai.err = errors.New("quota")
	env.d.Dispatch(context.Background(), selfDM(".ai fail"))

	if handled != 1 || failed != 1 {
		t.Fatalf("expected 1 handled and 1 failed, got %d/%d", handled, failed)
	}
}

func TestDispatcher_Commands(t *testing.T) {
	env := newTestEnv(config.GuardOwnerInGroup)
	names := env.d.Commands()
	sort.Strings(names)
	got := strings.Join(names, ",")
	want := "add,ai,demote,gpp,pp,promote,rm,see,sticker,tag,tagall"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
